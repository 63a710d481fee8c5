package pipeline

import "github.com/ashureev/anamnesis/internal/invoke"

// Persona system prompts for the reasoner-backed roles.
var personas = map[string]string{
	invoke.RoleInterviewer: "You are a warm, professional medical intake interviewer. " +
		"You ask exactly one clear question at a time, in plain language a patient understands. " +
		"You never diagnose and never alarm the patient. Respond with the question only.",
	invoke.RoleResearcher: "You distill patient-reported symptoms into concise medical search queries. " +
		"Respond with the query text only, no commentary.",
	invoke.RoleClinician: "You are a cautious clinical analyst. You summarize differential considerations " +
		"and red flags from intake notes and cited findings. You are explicit that nothing you write is a diagnosis.",
	invoke.RoleWriter: "You write structured medical intake reports in clear professional prose, " +
		"organized under the section headings you are given, without inventing facts.",
}

// PersonaFor returns the standing instructions for a reasoner-backed role.
func PersonaFor(role string) string { return personas[role] }

// Clinical returns the default intake pipeline: two interview turns, a
// trusted-source research pass, a clinical assessment, and the report body.
func Clinical() []Stage {
	return []Stage{
		{
			Name:        "interview",
			Role:        invoke.RoleInterviewer,
			Interactive: true,
			Instructions: "Open the intake interview: greet the patient briefly and ask what brings them in today, " +
				"so they describe their main symptom or concern in their own words.",
		},
		{
			Name:        "history",
			Role:        invoke.RoleInterviewer,
			DependsOn:   []string{"interview"},
			Interactive: true,
			Instructions: "Ask one focused follow-up question about the complaint above: onset, duration, severity, " +
				"or associated symptoms, whichever is most informative next.",
		},
		{
			Name:      "research",
			Role:      invoke.RoleResearcher,
			DependsOn: []string{"interview", "history"},
			Instructions: "Distill the patient's reported complaint and history above into one concise search query " +
				"for consumer medical references.",
		},
		{
			Name:      "assessment",
			Role:      invoke.RoleClinician,
			DependsOn: []string{"interview", "history", "research"},
			Instructions: "Using the interview answers and the cited findings above, summarize the likely benign " +
				"explanations, the differential considerations worth mentioning, and any red-flag symptoms that " +
				"should prompt urgent care. State clearly that this is not a diagnosis.",
		},
		{
			Name:      "report",
			Role:      invoke.RoleWriter,
			DependsOn: []string{"interview", "history", "assessment"},
			Instructions: "Write the body of the intake report from the material above, under these headings: " +
				"CHIEF COMPLAINT, HISTORY OF PRESENT ILLNESS, PRELIMINARY DIAGNOSTIC ASSESSMENT, " +
				"CLINICAL SUMMARY, RECOMMENDATIONS FOR FURTHER EVALUATION. " +
				"Keep each section short and factual; do not add information the patient did not report.",
		},
	}
}
