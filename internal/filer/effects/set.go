package effects

import "entityfiler/internal/filer"

// Config selects the collaborators of the standard effect set. Nil
// collaborators drop the effects that need them.
type Config struct {
	Accounts   AccountService
	Names      NameConsumer
	Publisher  Publisher
	Documents  DocumentWriter
	EmailTopic string
	EventTopic string
	APIBase    string
}

// Standard returns the registry's post-commit effects.
func Standard(cfg Config) []filer.SideEffect {
	var out []filer.SideEffect
	if cfg.Accounts != nil {
		out = append(out, AccountUpdate{Accounts: cfg.Accounts}, AffiliationUpdate{Accounts: cfg.Accounts})
	}
	if cfg.Names != nil {
		out = append(out, NameRequestConsumption{Names: cfg.Names})
	}
	if cfg.Publisher != nil {
		if cfg.EmailTopic != "" {
			out = append(out, EmailRequest{Publisher: cfg.Publisher, Topic: cfg.EmailTopic})
		}
		if cfg.EventTopic != "" {
			out = append(out, EventPublication{Publisher: cfg.Publisher, Topic: cfg.EventTopic, APIBase: cfg.APIBase})
		}
	}
	if cfg.Documents != nil {
		out = append(out, DocumentArchive{Documents: cfg.Documents})
	}
	return out
}
