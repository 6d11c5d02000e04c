package notify

import (
	"fmt"
	"html"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/tbourn/flymate-worker/internal/domain"
)

const (
	deeplinkBase = "https://aviasales.ru"
	searchBase   = "https://www.aviasales.com/search/"
)

// Formatter renders an offer as a Telegram HTML message.
type Formatter struct {
	// Locale controls number formatting (grouping and decimal mark).
	// language.Und falls back to English.
	Locale language.Tag
}

// LocaleOrDefault returns the configured locale, or English.
func (f Formatter) LocaleOrDefault() language.Tag {
	if f.Locale == language.Und {
		return language.English
	}
	return f.Locale
}

// Format builds the message body for one notice. A price drop shows the
// savings and the previously notified price; a first sighting of the
// departure day is tagged as new.
func (f Formatter) Format(sub domain.Subscription, n domain.Notice) string {
	o := n.Offer
	p := message.NewPrinter(f.LocaleOrDefault())
	esc := html.EscapeString

	carrier := strings.TrimSpace(o.Airline + " " + o.FlightNumber)
	if carrier == "" {
		carrier = "Airline not specified"
	}
	currency := o.Currency
	if currency == "" {
		currency = sub.CurrencyCode()
	}

	lines := []string{
		fmt.Sprintf("🛫 <b>%s → %s</b>", esc(o.Origin), esc(o.Destination)),
		"📅 " + o.DepartureAt.Format("02.01.2006 15:04"),
		"💺 " + esc(carrier),
		fmt.Sprintf("💰 <b>%s %s</b>", p.Sprintf("%.2f", o.Price), esc(currency)),
	}
	switch n.Trend {
	case domain.TrendDrop:
		amount, pct := n.Savings()
		lines = append(lines,
			fmt.Sprintf("📉 <b>-%s %s (-%s%%)</b>", p.Sprintf("%.2f", amount), esc(currency), p.Sprintf("%.1f", pct)),
			fmt.Sprintf("   Was: %s %s", p.Sprintf("%.2f", n.PreviousPrice), esc(currency)),
		)
	case domain.TrendNew:
		lines = append(lines, "🆕 <b>First fare for this date</b>")
	}
	lines = append(lines, "🔁 "+TransfersText(o.Transfers))
	if o.DurationMinutes > 0 {
		lines = append(lines, "🕒 "+HumanDuration(o.DurationMinutes))
	}
	if link := Deeplink(o.Link); link != "" {
		lines = append(lines, fmt.Sprintf(`<a href="%s">🔗 Buy ticket</a>`, esc(link)))
	}
	lines = append(lines, fmt.Sprintf(`<a href="%s">🔎 Similar flights</a>`, esc(SearchURL(o))))
	return strings.Join(lines, "\n")
}

// HumanDuration renders minutes as "3h 05m".
func HumanDuration(minutes int) string {
	if minutes < 0 {
		minutes = 0
	}
	return fmt.Sprintf("%dh %02dm", minutes/60, minutes%60)
}

// TransfersText describes the number of stops.
func TransfersText(n int) string {
	switch {
	case n <= 0:
		return "Direct"
	case n == 1:
		return "1 transfer"
	default:
		return fmt.Sprintf("%d transfers", n)
	}
}

// Deeplink turns the provider's relative booking path into an absolute URL.
// Absolute links are returned unchanged; an empty path yields "".
func Deeplink(path string) string {
	path = strings.TrimSpace(path)
	switch {
	case path == "":
		return ""
	case strings.HasPrefix(path, "http://"), strings.HasPrefix(path, "https://"):
		return path
	case !strings.HasPrefix(path, "/"):
		path = "/" + path
	}
	return deeplinkBase + path
}

// SearchURL builds a human search link: ORIGIN + DDMM + DESTINATION + "1"
// for one adult.
func SearchURL(o domain.Offer) string {
	return searchBase + o.Origin + o.DepartureAt.Format("0201") + o.Destination + "1"
}
