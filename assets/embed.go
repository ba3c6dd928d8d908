// Package assets embeds the default schema, field routing, context rules and
// prompt templates. Deployments may replace them with a directory laid out the
// same way.
package assets

import "embed"

//go:embed schema.json field_extractors.json field_contexts.json prompts
var FS embed.FS
