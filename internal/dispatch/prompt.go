package dispatch

import (
	"github.com/Ericobon/EsferaZap-sub001/internal/ai"
	"github.com/Ericobon/EsferaZap-sub001/internal/store"
)

// buildTurns maps a chronological history window onto model turns. Inbound
// messages speak as the user, outbound as the assistant; failed deliveries
// still reflect what the bot tried to say, so they stay in the context.
func buildTurns(history []store.Message) []ai.Turn {
	turns := make([]ai.Turn, 0, len(history))
	for _, m := range history {
		if m.Content == "" {
			continue
		}
		role := ai.RoleUser
		if m.Direction == store.DirectionOutbound {
			role = ai.RoleAssistant
		}
		turns = append(turns, ai.Turn{Role: role, Content: m.Content})
	}
	return turns
}
