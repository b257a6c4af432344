package document

// Document is the slice of an uploaded study document the chat backend needs.
// Parsing and storage of the original file happen elsewhere.
type Document struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Tags       []string `json:"tags,omitempty"`
	Paragraphs []string `json:"-"`
}

// Seed provides sample documents for local runs.
func Seed() []Document {
	return []Document{
		{
			ID:    "doc-1",
			Title: "Calculus I Lecture Notes",
			Tags:  []string{"math", "calculus"},
			Paragraphs: []string{
				"A derivative measures how a function's output changes as its input changes. For f(x) = x^2 the derivative is 2x.",
				"The power rule states that the derivative of x^n is n*x^(n-1) for any real n.",
				"The chain rule differentiates a composition: (f(g(x)))' = f'(g(x)) * g'(x).",
				"An integral accumulates area under a curve; the fundamental theorem links it to antiderivatives.",
			},
		},
		{
			ID:    "doc-2",
			Title: "Study Techniques Handbook",
			Tags:  []string{"study"},
			Paragraphs: []string{
				"Spaced repetition schedules reviews at growing intervals so memories are refreshed just before they fade.",
				"Active recall means testing yourself instead of rereading, which strengthens retrieval paths.",
				"Mind maps connect related concepts visually and help with topics that have many cross references.",
			},
		},
	}
}
