package auth

import (
	"fmt"
	"strings"
)

// ShowTokenGuide explains where to find the Apify API token
func ShowTokenGuide() {
	fmt.Println(strings.Repeat("=", 72))
	fmt.Println("APIFY API TOKEN")
	fmt.Println(strings.Repeat("=", 72))
	fmt.Println()
	fmt.Println("Scrape runs are executed by the Apify Instagram scraper actor and need")
	fmt.Println("an Apify API token.")
	fmt.Println()
	fmt.Println("  1. Sign in at https://console.apify.com")
	fmt.Println("  2. Open Settings → Integrations")
	fmt.Println("  3. Copy the Personal API token (it starts with apify_api_)")
	fmt.Println()
	fmt.Println("The token is looked up in this order:")
	fmt.Println("  • system keychain (socialdash auth set-token)")
	fmt.Println("  • encrypted credentials file in the config directory")
	fmt.Println("  • SOCIALDASH_APIFY_TOKEN, APIFY_TOKEN or apify.token in the config file")
	fmt.Println("  • the active row of the apify_keys table")
	fmt.Println()
	fmt.Println(strings.Repeat("=", 72))
}
