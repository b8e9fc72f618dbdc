package config

// Example usage of the configuration system:
//
// 1. Load configuration with all sources:
//
//     cfg, err := config.Load("", nil)
//     if err != nil {
//         log.Fatal(err)
//     }
//
// 2. Load with command line flags:
//
//     flags := map[string]interface{}{
//         "user":      "8c1e...",
//         "storage":   "local",
//         "log-level": "debug",
//     }
//     cfg, err := config.Load("", flags)
//
// 3. Environment variables:
//
//     export SOCIALDASH_APIFY_TOKEN="apify_api_..."
//     export SOCIALDASH_SUPABASE_URL="https://xyz.supabase.co"
//     export SOCIALDASH_SUPABASE_SERVICE_KEY="eyJ..."
//     export SOCIALDASH_DATABASE_DSN="postgres://..."
//     export SOCIALDASH_USER_ID="8c1e..."
//     export SOCIALDASH_POLL_INTERVAL="15s"
//
//    APIFY_TOKEN, SUPABASE_URL, SUPABASE_SERVICE_ROLE_KEY and DATABASE_URL are
//    honoured as fallbacks.
//
// 4. Save configuration to file (secrets are stripped):
//
//     if err := cfg.Save(".socialdash.yaml"); err != nil {
//         log.Fatal(err)
//     }
