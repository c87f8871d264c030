package monitoring

import (
	"strings"

	"github.com/medama-io/go-useragent"
)

const (
	ClientUnknown = "unknown"
	ClientPrinter = "printer"
	ClientBot     = "bot"
	// the CLI identifies itself with this User-Agent prefix
	PrinterUserAgent = "powfaucet-printer/"
)

var uaParser = useragent.NewParser()

// ClientFamily maps a User-Agent header to a low-cardinality metrics label.
func ClientFamily(ua string) string {
	if len(ua) == 0 {
		return ClientUnknown
	}

	if strings.HasPrefix(ua, PrinterUserAgent) {
		return ClientPrinter
	}

	agent := uaParser.Parse(ua)
	if agent.IsBot() {
		return ClientBot
	}

	if browser := string(agent.Browser()); len(browser) > 0 {
		return strings.ToLower(browser)
	}

	return ClientUnknown
}
