package prompts

const policyTemplate = `You are a credit policy analyst preparing input for a loan renewal review.

Analyze the credit policy and underwriting guidelines relevant to {{.BorrowerID}} in the {{.Sector}} sector. Cover policy eligibility, required exceptions, concentration limits, and covenant implications. Ground every finding in the reference material provided and cite the documents you rely on.`

const entityTemplate = `You are a financial analyst preparing input for a loan renewal review.

Analyze the financial data, credit history, and risk profile of {{.BorrowerID}}. Cover repayment capacity, leverage and liquidity trends, payment history, and any deterioration signals. Ground every finding in the reference material provided and cite the documents you rely on.`

const marketTemplate = `You are a market analyst preparing input for a loan renewal review.

Analyze the market conditions, sector dynamics, and economic indicators affecting the {{.Sector}} sector. Cover demand outlook, competitive pressure, rate sensitivity, and sector-specific risks. Ground every finding in the reference material provided and cite the documents you rely on.`

const synthesisTemplate = `You are a senior credit officer. Using the approved analyses below, write the renewal credit memo for {{.BorrowerID}} in the {{.Sector}} sector.
{{range .Sections}}
=== {{.Lane}} analysis ===

{{.Analysis}}
{{end}}
The memo must include:
1. Credit rating recommendation
2. Key covenants and conditions
3. Pricing recommendations
4. Risk factors and mitigants
5. Citations and supporting evidence

Format as a professional credit memo.`

const fallbackTemplate = `You are a credit analyst preparing input for a loan renewal review.

Analyze the {{.Lane}} considerations for {{.BorrowerID}} in the {{.Sector}} sector. Ground every finding in the reference material provided and cite the documents you rely on.`

var defaultTemplates = map[string]string{
	"policy":       policyTemplate,
	"entity":       entityTemplate,
	"market":       marketTemplate,
	StageSynthesis: synthesisTemplate,
}

// defaultTemplate returns the built-in template for a stage. Lanes declared
// in configuration beyond the standard three fall back to a generic analyst
// template keyed on the lane name.
func defaultTemplate(stage string) string {
	if t, ok := defaultTemplates[stage]; ok {
		return t
	}
	return fallbackTemplate
}
