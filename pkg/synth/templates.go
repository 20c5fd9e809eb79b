package synth

var categoryKeywords = []struct {
	category Category
	keywords []string
}{
	{Story, []string{"story", "tale", "narrative", "once upon", "character", "plot", "fiction"}},
	{Explanation, []string{"explain", "how", "what is", "define", "describe", "tell me about", "why", "when"}},
	{Creative, []string{"create", "imagine", "design", "art", "creative", "invent", "build", "make"}},
}

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "to": true, "in": true,
	"on": true, "at": true, "for": true, "with": true, "about": true, "and": true,
	"or": true, "but": true, "from": true, "by": true, "as": true, "into": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true,
	"i": true, "me": true, "my": true, "you": true, "your": true, "we": true,
	"our": true, "it": true, "its": true, "this": true, "that": true, "these": true,
	"those": true, "please": true, "can": true, "could": true, "would": true,
	"will": true, "should": true, "do": true, "does": true, "give": true,
	"tell": true, "write": true, "explain": true, "describe": true, "define": true,
	"what": true, "how": true, "why": true, "when": true, "who": true, "where": true,
	"which": true, "create": true, "make": true, "imagine": true, "design": true,
	"build": true, "invent": true, "some": true, "any": true, "short": true,
	"brief": true, "story": true, "tale": true, "works": true, "work": true,
}

var defaultTemplates = map[Category][]string{
	Story: {
		"Once upon a time, there was a tale about {{.Topic}}. This story unfolds in a world where imagination meets reality, and every word carries the power to turn thoughts into vivid experiences.",
		"In a realm where {{.Topic}} holds great significance, our story begins. The protagonist discovers that this idea is more than it first appears, and every challenge along the way becomes an opportunity for growth.",
		"The narrative of {{.Topic}} takes us on an extraordinary adventure through landscapes of possibility. Our hero finds wisdom in unexpected places and learns that the journey mattered more than the destination.",
	},
	Explanation: {
		"Let me explain {{.Topic}} in a comprehensive way. At its core it rests on a few fundamental principles that connect to many areas of knowledge and practice.",
		"Understanding {{.Topic}} requires us to examine its key components and how they relate to each other. Breaking it into manageable parts shows both its complexity and its underlying simplicity.",
		"To grasp {{.Topic}}, we need to look at its theoretical foundations and its real-world implications. Systematic analysis and practical examples make its relevance clear.",
	},
	Creative: {
		"Imagine a world where {{.Topic}} becomes the centerpiece of innovation and artistic expression. In this space, boundaries dissolve and new possibilities emerge.",
		"The creative potential of {{.Topic}} invites us to think beyond conventional limits. Each idea sparks new connections, and innovation follows when assumptions are questioned.",
		"Through the lens of creativity, {{.Topic}} becomes a canvas for exploration and experimentation, opening doors to fresh interpretations.",
	},
	Default: {
		"Regarding {{.Topic}}, there are numerous fascinating dimensions to explore. Each aspect contributes to a deeper understanding of how the parts fit together.",
		"When we consider {{.Topic}}, we encounter a rich tapestry of ideas and possibilities that connect to a broader context.",
		"The subject of {{.Topic}} gives us room for meaningful analysis. Careful examination uncovers layers of significance and a more nuanced perspective.",
	},
}

var defaultElaborations = map[Category]string{
	Story:       "As the tale of {{.Topic}} continues, each new character brings a different perspective, and the ending leaves room for the reader's own imagination.",
	Explanation: "In practice, {{.Topic}} shows up in everyday situations. Starting from the basics and building up step by step is the most reliable way to understand it well.",
	Creative:    "Taking {{.Topic}} further means mixing it with unexpected influences and seeing what emerges when familiar pieces are arranged in new ways.",
	Default:     "There is always more to learn about {{.Topic}}. Looking at it from different angles and asking new questions keeps the exploration going.",
}
