package conversation

import "github.com/Sean-Khorasani/Burwell-sub001/pkg/burwell"

// buildInitialPrompt composes the first planner prompt for a fresh
// conversation: the user's request plus whatever variables and environment
// are already known.
func buildInitialPrompt(userInput string, vars map[string]interface{}, env *burwell.EnvironmentSnapshot) map[string]interface{} {
	prompt := map[string]interface{}{
		"user_request": userInput,
		"variables":    vars,
	}
	if env != nil {
		prompt["environment"] = env
	}
	return prompt
}

// buildFollowUpPrompt composes a subsequent-turn prompt carrying the
// conversation history and the most recent addition (an environment snapshot
// fulfilling an environmental_data_request, or a user's interaction answer).
func buildFollowUpPrompt(history []Message, addition map[string]interface{}) map[string]interface{} {
	prompt := map[string]interface{}{
		"history": history,
	}
	for k, v := range addition {
		prompt[k] = v
	}
	return prompt
}
