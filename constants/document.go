package constants

// Vocabulary of the structured documents produced by the compiler.
const (
	// ItemTag is the element name of content nodes that carry data.
	ItemTag = "question"
	// TypeAttr distinguishes category markers from data items.
	TypeAttr = "type"
	// CategoryType marks a structural item that is not data.
	CategoryType = "category"

	// DraftPackage is the LaTeX package whose draft option is stripped after rendering.
	DraftPackage = "moodle"
	// DraftOption is the option removed from DraftPackage.
	DraftOption = "draft"
)
