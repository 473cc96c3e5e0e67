package campuschat

import "embed"

// TemplateFS contains the embedded HTML templates used for rendering the chat widget. These templates
// are organized in a directory structure that separates layouts, pages, and partial views. Partials are
// also used to render the fragments pushed to the browser over server-sent events.
//
//go:embed templates/*
var TemplateFS embed.FS

// StaticFS contains the embedded static assets (script, stylesheet and avatars) required for the
// widget's behaviour and styling.
//
//go:embed static/*
var StaticFS embed.FS
