package usecase

import (
	"fmt"
	"strconv"
	"strings"

	"assistbot/internal/domain"
)

// MainMenu is the reply keyboard attached to the welcome and restart replies.
var MainMenu = [][]string{
	{ButtonWeather, ButtonSearch},
	{ButtonTime, ButtonHelp},
	{ButtonRestart},
}

// WeatherErrorMessages is the pool drawn from when the weather upstream is
// unavailable.
var WeatherErrorMessages = []string{
	"🌪 Oops! Looks like the meteorologist fell asleep at the desk... Try waking them up again!",
	"🌡 The thermometer broke, the barometer ran off and the hygrometer took a day off... Shall we try again?",
	"☔ Our forecaster got stuck in the rain without an umbrella. They'll be back soon with the news!",
	"🌈 A rainbow stole all our weather data. Hold on while we get it back!",
	"🌞 The sun is refusing to cooperate for now. It says it's tired of shining...",
	"🌙 The moon is covering the sun's shift but hasn't figured out the computer yet",
	"⛈ A thunderstorm damaged our weather satellites! Our astronauts are already fixing them",
	"🌤 The clouds went on strike and refuse to move. Negotiations are under way...",
	"❄ Snowflakes got tangled in the wires and are blocking the data. We sent the janitor to help!",
	"🌪 A tornado carried off all our weather records! We're trying to catch up with them...",
}

// CityNotFoundMessages is the pool drawn from when the city is unknown.
// Each entry is a format string taking the city name once.
var CityNotFoundMessages = []string{
	"🗺 Hmm... %s? Maybe this city is hiding behind the clouds? Check the name!",
	"🌍 Uh-oh! Looks like %s has temporarily moved to another galaxy. A typo, perhaps?",
	"🧭 Our compass can't find %s. Maybe it was abducted by aliens?",
	"🎯 %s is playing hide-and-seek with us! Check that the name is spelled correctly",
	"🔍 Our geographer is on vacation and forgot to put %s on the map. Maybe try another city?",
	"📍 %s? Hmm... Maybe this city is in disguise? Check the spelling!",
	"🌏 Oh no! %s went out for a walk. Make sure the name is written correctly",
	"🗿 Archaeologists are still searching for the ancient city of %s. Shall we look for weather elsewhere?",
	"🎪 %s ran away with the circus! Check the name for typos",
	"🌈 %s is somewhere over the rainbow... Maybe try searching for it under another name?",
}

const (
	welcomeText = "👋 Hi! I'm a multi-purpose bot.\n\n" +
		"Use the menu buttons for quick access to my features.\n" +
		"Send /help to see the list of all available commands."

	helpText = `📋 *Available commands:*

🌤 */weather* [city] - Current weather in a city
Example: /weather Moscow

⏰ */time* - Show the current time

ℹ️ */help* - Show this message

💡 *How do I ask a question?*
Just type your question in the chat and I'll try to find the answer!

💡 Tip: use the menu buttons for quick access to features.
To open the menu, send /start`

	weatherPromptText = "Enter the city name like this:\n/weather Moscow"
	searchPromptText  = "Just type your question and I'll find the answer!"
	weatherUsageText  = "Please specify a city. Example: /weather Moscow"
	restartDoneText   = "✅ Restart complete! Search is warming up and will be ready in a few seconds."

	retryHint = "\n\n(Try again in a minute)"

	searchWarmingUpText = "🔄 Search is starting up... Please wait a few seconds and try again."
	searchNoResultsText = "Nothing found for your query. Try rephrasing your question."
	searchTimeoutText   = "❌ Search failed. The response took too long. Please try again or rephrase your question."
	searchFailedText    = "❌ Search failed."

	errorReplyPrefix = "❌ An error occurred: "
)

func formatWeather(res domain.WeatherResult) string {
	return fmt.Sprintf("Weather in %s:\nTemperature: %s°C\nConditions: %s\nHumidity: %d%%",
		res.City,
		strconv.FormatFloat(res.TemperatureC, 'f', -1, 64),
		res.Description,
		res.HumidityPct,
	)
}

func formatTime(now string) string {
	return "🕒 Current time: " + now
}

// formatSearchResults renders results as Telegram Markdown blocks.
func formatSearchResults(query string, results []domain.SearchResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🔍 Search results for \"%s\":\n\n", escapeMarkdown(query))
	for i, r := range results {
		if i > 0 {
			sb.WriteString("\n")
		}
		title := r.Title
		if title == "" {
			title = "untitled"
		}
		fmt.Fprintf(&sb, "📌 *%s*\n%s\n%s\n", escapeMarkdown(title), escapeMarkdown(r.Snippet), escapeMarkdown(r.URL))
	}
	return sb.String()
}

var markdownEscaper = strings.NewReplacer(
	"_", `\_`,
	"*", `\*`,
	"`", "\\`",
	"[", `\[`,
)

// escapeMarkdown escapes the characters that open entities in Telegram's
// legacy Markdown mode.
func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
