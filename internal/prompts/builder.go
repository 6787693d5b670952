package prompts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
)

// Section is one approved lane analysis passed into the synthesis template.
type Section struct {
	Lane     string
	Analysis string
}

// templateData is the full set of fields available to stage templates.
// Lane templates use BorrowerID, Sector, and Lane; the synthesis template
// additionally receives Sections.
type templateData struct {
	BorrowerID string
	Sector     string
	Lane       string
	Sections   []Section
}

// Builder renders stage prompts, preferring an active stored override and
// falling back to the built-in template for the stage.
type Builder struct {
	sys    System
	logger *slog.Logger
}

func NewBuilder(sys System, logger *slog.Logger) *Builder {
	return &Builder{
		sys:    sys,
		logger: logger.With("system", "prompt-builder"),
	}
}

// Initial renders the first-attempt prompt for a lane.
func (b *Builder) Initial(ctx context.Context, lane, borrowerID, sector string) (string, error) {
	return b.render(ctx, lane, templateData{
		BorrowerID: borrowerID,
		Sector:     sector,
		Lane:       lane,
	})
}

// Rerun renders the prompt for a lane whose previous analysis was rejected.
// The rejected draft and attempt number are appended so the result always
// differs from the prompt that produced the rejection.
func (b *Builder) Rerun(ctx context.Context, lane, borrowerID, sector, rejected string, attempt int) (string, error) {
	base, err := b.Initial(ctx, lane, borrowerID, sector)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(base)
	sb.WriteString("\n\nA prior draft of this analysis was reviewed and rejected.")
	fmt.Fprintf(&sb, " This is attempt %d.\n\nRejected draft:\n\n", attempt)
	sb.WriteString(rejected)
	sb.WriteString("\n\nAddress the shortcomings of the rejected draft and produce a revised analysis.")

	return sb.String(), nil
}

// Synthesis renders the credit memo prompt from the approved lane analyses.
func (b *Builder) Synthesis(ctx context.Context, borrowerID, sector string, sections []Section) (string, error) {
	return b.render(ctx, StageSynthesis, templateData{
		BorrowerID: borrowerID,
		Sector:     sector,
		Sections:   sections,
	})
}

func (b *Builder) render(ctx context.Context, stage string, data templateData) (string, error) {
	text := defaultTemplate(stage)

	override, err := b.sys.ActiveForStage(ctx, stage)
	switch {
	case err == nil:
		text = override.Template
	case errors.Is(err, ErrNotFound):
	default:
		return "", fmt.Errorf("load prompt for stage %s: %w", stage, err)
	}

	tmpl, err := template.New(stage).Parse(text)
	if err != nil {
		b.logger.Warn("prompt template invalid, using default", "stage", stage, "error", err)
		tmpl = template.Must(template.New(stage).Parse(defaultTemplate(stage)))
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render prompt for stage %s: %w", stage, err)
	}

	return sb.String(), nil
}
