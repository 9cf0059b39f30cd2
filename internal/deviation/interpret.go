package deviation

import "strings"

// interpretation builds the plain-language sentence for an account from its
// ranked signals. immaterial reports whether the dominant signal's metric is
// below its effect materiality floor.
func interpretation(lang Language, accountName string, signals []Signal, immaterial bool) string {
	if len(signals) == 0 {
		return ""
	}

	dom := signals[0]
	var body string
	if immaterial && dom.Kind.Volatility() {
		body = lang.template(TemplateVolatilityImmaterial, TemplateKey(dom), string(dom.Kind))
	} else {
		body = lang.template(TemplateKey(dom), string(dom.Kind))
	}
	body = fillTemplate(body, lang.Subject(dom.Metric), dom.Metric, lang.direction(dom.Direction))

	seen := map[Kind]bool{dom.Kind: true}
	var notes []string
	for _, s := range signals[1:] {
		if len(notes) >= lang.MaxNotes {
			break
		}
		if seen[s.Kind] {
			continue
		}
		seen[s.Kind] = true
		if note, ok := lookupFold(lang.Notes, string(s.Kind)); ok && note != "" {
			notes = append(notes, note)
		}
	}

	var b strings.Builder
	b.WriteString(lang.Subject(dom.Metric))
	b.WriteString(": ")
	b.WriteString(body)
	for _, n := range notes {
		b.WriteString("; ")
		b.WriteString(n)
	}
	b.WriteString(".")
	if finish := lang.finish(lang.Bucket(accountName)); finish != "" {
		b.WriteString(" ")
		b.WriteString(finish)
	}
	return b.String()
}

func fillTemplate(tmpl, subject, metric, direction string) string {
	return strings.NewReplacer(
		"{subject}", subject,
		"{metric}", metric,
		"{direction}", direction,
	).Replace(tmpl)
}
