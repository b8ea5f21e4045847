package ci

import "strings"

// DependabotActor is the GITHUB_ACTOR of runs triggered by dependabot.
const DependabotActor = "dependabot[bot]"

// IsBot compares the triggering actor with a bot identity, ignoring case. An empty actor never matches.
func IsBot(actor, identity string) bool {
	return actor != "" && strings.EqualFold(actor, identity)
}
