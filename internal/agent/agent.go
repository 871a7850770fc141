// Package agent declares the age-calculator agent: its control prompt and
// the tools it exposes to the runtime. The declared capabilities are the
// baseline the static smoke check asserts against after every deployment.
package agent

// ControlPrompt steers the hosted runtime. Changing it is a capability
// change and must be reflected in the verifier baseline.
const ControlPrompt = `You are a helpful assistant that calculates a user's age in days.
When the user provides their birthdate, use the get_current_date tool to find today's date,
then use the calculate_days_between tool to compute the number of days between their birthdate
and today. Present the result clearly.`

// Tool names as registered with the runtime.
const (
	ToolGetCurrentDate       = "get_current_date"
	ToolCalculateDaysBetween = "calculate_days_between"
)

// Capabilities is the declared surface of a deployed agent.
type Capabilities struct {
	ControlPrompt string   `json:"controlPrompt"`
	Tools         []string `json:"tools"`
}

// Declared returns the capabilities the current build ships with. This is
// pure construction, no network or SDK calls.
func Declared() Capabilities {
	return Capabilities{
		ControlPrompt: ControlPrompt,
		Tools:         []string{ToolGetCurrentDate, ToolCalculateDaysBetween},
	}
}
