package reasoner

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/anamnesis/internal/invoke"
)

// Scripted is a deterministic stand-in for the reasoning service, used when
// no API key is configured so the server still runs end to end in
// development. It is stateless: responses derive only from the request, so
// concurrent sessions cannot contaminate each other.
type Scripted struct{}

// NewScripted creates a scripted reasoner.
func NewScripted() *Scripted { return &Scripted{} }

// Complete produces a canned, role-appropriate response.
func (s *Scripted) Complete(_ context.Context, req Request) (string, error) {
	prompt := strings.ToLower(req.Prompt)

	switch req.Role {
	case invoke.RoleInterviewer:
		if strings.Contains(prompt, "follow-up") {
			return "How long has this been going on, and how would you rate it from 1 to 10 at its worst?", nil
		}
		return "Thank you for coming in today. What brings you in — can you describe your main symptom or concern?", nil

	case invoke.RoleClinician:
		return "Assessment (scripted): the reported complaint is most consistent with a benign, self-limited condition. " +
			"Red flags to watch for: sudden worsening, fever, neurological changes. " +
			"Recommend rest, hydration, and follow-up with a clinician if symptoms persist beyond one week.", nil

	case invoke.RoleWriter:
		return "CHIEF COMPLAINT\nAs reported by the patient during intake.\n\n" +
			"HISTORY OF PRESENT ILLNESS\nCollected over the interview turns recorded in this session.\n\n" +
			"ASSESSMENT\nScripted development assessment; no clinical weight.\n\n" +
			"RECOMMENDATIONS\nFollow up with a licensed clinician for any persistent or worsening symptoms.", nil

	default:
		return fmt.Sprintf("(scripted %s output)", req.Role), nil
	}
}
