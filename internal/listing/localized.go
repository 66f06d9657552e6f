package listing

// Localized maps language codes to text. A repeated language overwrites the
// earlier value but keeps its original position.
type Localized struct {
	order  []string
	values map[string]string
}

func (l *Localized) Set(lang, text string) {
	if l.values == nil {
		l.values = make(map[string]string)
	}
	if _, ok := l.values[lang]; !ok {
		l.order = append(l.order, lang)
	}
	l.values[lang] = text
}

func (l Localized) Get(lang string) string { return l.values[lang] }

func (l Localized) Len() int { return len(l.order) }

// Languages returns codes in first-seen order.
func (l Localized) Languages() []string { return append([]string(nil), l.order...) }

// Resolve prefers lang and otherwise falls back to the first non-empty
// value in insertion order.
func (l Localized) Resolve(lang string) string {
	if v := l.values[lang]; v != "" {
		return v
	}
	for _, code := range l.order {
		if v := l.values[code]; v != "" {
			return v
		}
	}
	return ""
}
