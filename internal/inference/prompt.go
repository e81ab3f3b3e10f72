package inference

// Prompt asks for one headerless CSV line: date with dots, time with colons,
// food sum and non-food sum, euro amounts with a decimal comma.
const Prompt = "Es ist ein Kassenbon und Eurobeträge mit Komma. " +
	"Mache einen CSV Datensatz no header und ohne Erläuterung mit Semikolon als Trenner von " +
	"Datum mit Punkt, Uhrzeit mit Doppelpunkt, Summe_Food, Summe_NonFood"

const (
	// DefaultModelName is the Gemini model used for receipts.
	DefaultModelName = "gemini-2.5-flash"
)
