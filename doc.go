// Package contracts extracts a fixed set of fields from the text of Russian
// commercial contracts: the parties, the total amount, VAT, currency, subject,
// payment terms and a short summary. Deterministic rules run first; the
// remaining fields are filled by a language model, one chat call per field
// group, and the merged record is validated against a JSON Schema.
//
// # Pipeline
//
// A run goes through these stages:
//
//  1. Normalize: NFC, non-breaking spaces, quotes and line endings.
//  2. Optional summary pass: one call producing summary candidates.
//  3. Rule extraction: regular expressions for parties, amounts, VAT and the
//     creation timestamp. Values already present always win.
//  4. Model calls: fields routed to "llm" are grouped; each group sees its
//     own slice of the document (head, tail, head+tail, or a window around
//     keywords) and its own prompt section.
//  5. Merge and filter: fields routed to "off" never appear in the output.
//  6. Validate against the enabled part of the schema.
//  7. Summarize: short summary and selection rationale built from the record.
//
// # Basic Usage
//
//	cfg, err := contracts.LoadConfig(nil)
//	if err != nil {
//		return err
//	}
//	client, err := contracts.NewOllamaClient(cfg.LLM.Host, cfg.LLM.Model, cfg.LLM.ReadTimeout)
//	if err != nil {
//		return err
//	}
//	p, err := contracts.LoadPipeline(assets.FS, client, contracts.WithConfig(*cfg))
//	if err != nil {
//		return err
//	}
//	res, err := p.Run(ctx, text)
//	if err != nil {
//		return err // ErrEmptyDocument, ErrInferenceUnavailable, ...
//	}
//	fmt.Println(res.Record, res.Valid(), res.Warnings)
//
// A nil client is accepted when model extraction and the summary pass are
// both disabled (WithModelExtraction(false)); the pipeline then runs on rules
// alone.
//
// # Field Routing
//
// The assets directory holds the JSON Schema, the routing table and the
// prompt templates:
//
//	schema.json            field definitions and required fields
//	field_extractors.json  field -> "rule" | "llm" | "off"
//	field_contexts.json    groups, document slices, per-group models
//	prompts/*.twig         system and user templates (Twig syntax)
//	field_guidelines.md    guideline sections injected into prompts
//
// The embedded copy lives in package assets; an on-disk directory with the
// same layout replaces it without a rebuild.
//
// # Execution Plans
//
// Explain and ExplainWithCosts describe a run without calling the model: the
// groups, their slices, estimated token counts and costs. FormatPlan renders
// a plan as an indented tree or JSON.
//
// # Evaluation
//
// DecodeGold and CompareRecords score a record against a hand-labelled gold
// file, comparing numbers within a tolerance and text after quote and space
// normalization. RunBatch processes several documents concurrently.
package contracts
