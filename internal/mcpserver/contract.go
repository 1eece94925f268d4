package mcpserver

// ArtifactFormatContract describes how cached artifacts are versioned, for
// LLM clients that read or write them.
const ArtifactFormatContract = `# Marginalia Artifact Contract

An artifact is generated text cached per (document, action). Documents are
identified by their absolute path.

## Fields

- ` + "`result`" + `: the generated text. Never empty.
- ` + "`progress_decimal`" + `: reading fraction (0.0 to 1.0) the artifact covers.
  Absent means the whole document.
- ` + "`previous_progress_decimal`" + `: coverage before the last incremental update.
- ` + "`full_document`" + `: generated in one shot for the whole document.
- ` + "`scope_fingerprint`" + `: which hidden sections were excluded at generation.

## Rules

1. Progress never decreases through save or update. Only redo may go back.
2. An artifact at 99.5% or more, or with full_document set, is complete.
3. When the reader is more than 1% past the artifact, offer an update to the
   reader's position. Otherwise offer a redo at the reader's position.
4. A changed scope fingerprint needs a redo or a full regeneration, never an
   incremental update.
5. Legacy whole-document slots are ` + "`_summary`, `_analysis` and `_xref`" + `.
`
