package wizard

// PromptKind enumerates the type of prompt.
type PromptKind string

const (
	PromptInput    PromptKind = "input"
	PromptPassword PromptKind = "password"
	PromptSelect   PromptKind = "select"
	PromptConfirm  PromptKind = "confirm"
)

// PromptSpec describes a question to ask. Key names the config field the
// answer fills.
type PromptSpec struct {
	Key      string
	Kind     PromptKind
	Label    string
	Default  string
	Options  []string
	Required bool
}

type TransportOption struct {
	Name        string
	Description string
	Prompts     []PromptSpec
}

// Registry holds available options for the wizard.
type Registry struct {
	HomeAssistant []PromptSpec
	OpenAI        []PromptSpec
	Transports    []TransportOption
}

var defaultRegistry = Registry{
	HomeAssistant: []PromptSpec{
		{Key: "url", Kind: PromptInput, Label: "Home Assistant URL", Default: "http://homeassistant.local:8123", Required: true},
		{Key: "token", Kind: PromptPassword, Label: "Home Assistant long-lived access token", Required: true},
		{Key: "config_dir", Kind: PromptInput, Label: "Home Assistant config directory (holds automations.yaml)", Default: "/config", Required: true},
		{Key: "renderer", Kind: PromptSelect, Label: "Render the prompt template", Options: []string{"local", "remote"}, Default: "local"},
	},
	OpenAI: []PromptSpec{
		{Key: "api_key", Kind: PromptPassword, Label: "OpenAI API key", Required: true},
	},
	Transports: []TransportOption{
		{Name: "http", Description: "Conversation endpoint shaped like Home Assistant's", Prompts: []PromptSpec{
			{Key: "listen", Kind: PromptInput, Label: "Listen address", Default: "127.0.0.1:8765", Required: true},
			{Key: "token", Kind: PromptPassword, Label: "Bearer token for callers (blank for none)"},
		}},
		{Name: "nostr", Description: "Nostr DMs over relays", Prompts: []PromptSpec{
			{Key: "relays", Kind: PromptInput, Label: "Relays (comma-separated)", Default: "wss://relay.damus.io,wss://nos.lol", Required: true},
			{Key: "private_key", Kind: PromptPassword, Label: "Nostr private key (hex, blank to generate)"},
			{Key: "allowed_pubkeys", Kind: PromptInput, Label: "Allowed pubkeys (comma-separated hex)", Required: true},
		}},
		{Name: "email", Description: "IMAP inbox polling with SMTP replies", Prompts: []PromptSpec{
			{Key: "host", Kind: PromptInput, Label: "IMAP host", Required: true},
			{Key: "username", Kind: PromptInput, Label: "Mailbox username", Required: true},
			{Key: "password", Kind: PromptPassword, Label: "Mailbox password", Required: true},
		}},
		{Name: "mock", Description: "Offline mock transport"},
	},
}

// GetRegistry returns the default registry (copy).
func GetRegistry() Registry {
	return defaultRegistry
}

// SetRegistry overrides the global registry (primarily for tests/extensibility).
// Callers should restore the previous value after use to avoid leaking state across tests.
func SetRegistry(r Registry) {
	defaultRegistry = r
}
