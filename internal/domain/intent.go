package domain

// IntentKind identifies the classified purpose of an inbound message.
type IntentKind int

const (
	IntentNone IntentKind = iota
	IntentShowMenu
	IntentRestart
	IntentWeatherPrompt
	IntentSearchPrompt
	IntentShowTime
	IntentShowHelp
	IntentWeatherQuery
	IntentFreeTextSearch
)

var intentNames = map[IntentKind]string{
	IntentNone:           "none",
	IntentShowMenu:       "show_menu",
	IntentRestart:        "restart",
	IntentWeatherPrompt:  "weather_prompt",
	IntentSearchPrompt:   "search_prompt",
	IntentShowTime:       "show_time",
	IntentShowHelp:       "show_help",
	IntentWeatherQuery:   "weather_query",
	IntentFreeTextSearch: "free_text_search",
}

func (k IntentKind) String() string {
	if s, ok := intentNames[k]; ok {
		return s
	}
	return "unknown"
}

// Intent is the classification of one message. Arg carries the city for
// IntentWeatherQuery and the query for IntentFreeTextSearch.
type Intent struct {
	Kind IntentKind
	Arg  string
}
