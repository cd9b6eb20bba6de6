package prompt

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/Emperor-Ovaltine/gideon/internal/adventure"
	"github.com/Emperor-Ovaltine/gideon/internal/types"
)

// DefaultSystemPrompt is the built-in global system prompt used when the
// configuration does not set one.
const DefaultSystemPrompt = `You are a helpful AI assistant named Gideon. You provide clear, accurate, and thoughtful responses. You strive to be helpful, but you'll acknowledge when you don't know something. When users include their names in messages, address them by name in your responses.

You should adapt your tone to be conversational and friendly, while maintaining professionalism. You aim to be concise but thorough, providing sufficient context without unnecessary verbosity.`

// DungeonMasterPrompt is the system prompt for adventure narration.
const DungeonMasterPrompt = "You are an experienced and creative Dungeon Master for a tabletop RPG game. " +
	"Your responses should be descriptive, engaging, and help move the story forward. " +
	"Include sensory details, NPC dialogue, and opportunities for player choices. " +
	"Keep your responses concise (300 words or less). " +
	"When players roll dice, acknowledge the result and incorporate it into the narrative. " +
	"If players want to add new characters, help them do so."

// actionWindow is how many recent player turns are replayed to the narrator.
const actionWindow = 5

// OpeningPrompt asks the narrator to open an adventure.
func OpeningPrompt(premise string) string {
	return fmt.Sprintf("Start a new adventure in %s. Describe the opening scene, introduce the setting, and give the players a situation to respond to.", premise)
}

// AdventureHistory turns the tail of a session's scene log into a chat
// history for the narrator: the opening, then up to five player turns each
// followed by the narration it received.
func AdventureHistory(s adventure.Session) []types.Message {
	var out []types.Message
	if len(s.SceneLog) > 0 && s.SceneLog[0].Kind == adventure.EntryOpening {
		out = append(out, types.UserMessage("", OpeningPrompt(s.Premise()), s.SceneLog[0].Timestamp))
	}

	start := len(s.SceneLog)
	players := 0
	for start > 0 && players < actionWindow {
		start--
		switch s.SceneLog[start].Kind {
		case adventure.EntryAction, adventure.EntryRoll:
			players++
		}
	}
	if start == 0 && len(s.SceneLog) > 0 && s.SceneLog[0].Kind == adventure.EntryOpening {
		start = 1
	}

	for _, e := range s.SceneLog[start:] {
		switch e.Kind {
		case adventure.EntryAction, adventure.EntryRoll:
			out = append(out, types.UserMessage(e.Actor, e.Narrative, e.Timestamp))
		case adventure.EntryNarration:
			out = append(out, types.AssistantMessage(e.Narrative, e.Timestamp))
		}
	}
	return out
}

// RollNarration is the player line recorded for a roll.
func RollNarration(reason string, r adventure.RollResult) string {
	line := fmt.Sprintf("I roll %s: %s", r.Spec, r.Breakdown())
	if reason != "" {
		line += " for " + reason
	}
	return line
}

var sceneTemplate = template.Must(template.New("scene").Parse(
	`{{.Setting}} tabletop RPG scene illustration, {{.Premise}}. {{.Scene}}. Detailed digital painting, dramatic lighting, no text.`))

// SceneData feeds the image prompt template.
type SceneData struct {
	Setting string
	Premise string
	Scene   string
}

// ScenePrompt renders the text-to-image prompt for a scene. The scene text
// is cut to keep the prompt within what image models accept.
func ScenePrompt(d SceneData) string {
	d.Scene = strings.TrimSpace(adventure.Truncate(strings.Join(strings.Fields(d.Scene), " "), 400))
	var b strings.Builder
	if err := sceneTemplate.Execute(&b, d); err != nil {
		return d.Scene
	}
	return b.String()
}
