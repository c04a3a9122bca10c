package usecase

import (
	"strings"
	"unicode"

	"assistbot/internal/domain"
)

// Menu button labels. They double as the exact-match commands below.
const (
	ButtonMenu    = "🏠 Menu"
	ButtonWeather = "🌤 Weather"
	ButtonSearch  = "🔍 Search"
	ButtonTime    = "⏰ Time"
	ButtonHelp    = "ℹ️ Help"
	ButtonRestart = "🔄 Restart"
)

var exactIntents = map[string]domain.IntentKind{
	"/start":      domain.IntentShowMenu,
	ButtonMenu:    domain.IntentShowMenu,
	"/restart":    domain.IntentRestart,
	ButtonRestart: domain.IntentRestart,
	ButtonWeather: domain.IntentWeatherPrompt,
	ButtonSearch:  domain.IntentSearchPrompt,
	"/time":       domain.IntentShowTime,
	ButtonTime:    domain.IntentShowTime,
	"/help":       domain.IntentShowHelp,
	ButtonHelp:    domain.IntentShowHelp,
}

// Classify maps message text to an Intent. Rules are applied in order:
// exact labels and commands, then any command starting with /weather, then
// /time and /help with an argument, then any other slash command (ignored),
// then free text. Only text after the first whitespace is a weather argument,
// so "/weatherMoscow" asks for usage.
// botName, when set, is the bot's username: "/cmd@botName" is treated as
// "/cmd" and commands addressed to other bots are ignored.
// IntentNone means the message gets no reply.
func Classify(text, botName string) domain.Intent {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Intent{Kind: domain.IntentNone}
	}
	if kind, ok := exactIntents[text]; ok {
		return domain.Intent{Kind: kind}
	}
	if !strings.HasPrefix(text, "/") {
		return domain.Intent{Kind: domain.IntentFreeTextSearch, Arg: text}
	}

	token, arg := splitCommand(text)
	cmd, ok := commandName(token, botName)
	if !ok {
		return domain.Intent{Kind: domain.IntentNone}
	}

	if strings.HasPrefix(cmd, "/weather") {
		return domain.Intent{Kind: domain.IntentWeatherQuery, Arg: arg}
	}
	switch cmd {
	case "/time":
		return domain.Intent{Kind: domain.IntentShowTime}
	case "/help":
		return domain.Intent{Kind: domain.IntentShowHelp}
	}
	if kind, ok := exactIntents[cmd]; ok && arg == "" {
		return domain.Intent{Kind: kind}
	}
	return domain.Intent{Kind: domain.IntentNone}
}

// splitCommand splits text at the first whitespace into the command token
// and its trimmed argument.
func splitCommand(text string) (token, arg string) {
	i := strings.IndexFunc(text, unicode.IsSpace)
	if i < 0 {
		return text, ""
	}
	return text[:i], strings.TrimSpace(text[i:])
}

// commandName strips an "@bot" suffix from token. It reports false when the
// command is addressed to a different bot.
func commandName(token, botName string) (string, bool) {
	cmd, target, found := strings.Cut(token, "@")
	if !found {
		return cmd, true
	}
	if botName != "" && !strings.EqualFold(target, strings.TrimPrefix(botName, "@")) {
		return "", false
	}
	return cmd, true
}
