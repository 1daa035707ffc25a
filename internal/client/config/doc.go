// Package config loads runtime configuration for the clinicdesk CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. A .env file in the working directory, loaded with godotenv. It never
//     overrides variables already set in the environment.
//  3. CLINICDESK_* environment variables, e.g. CLINICDESK_BACKEND_URL.
//  4. Optional JSON file selected with -c or -config.
//  5. Command-line flags, which override everything else.
//
// # JSON schema
//
// Durations use timex.Duration, so values can be strings like "20s" or
// integer nanoseconds:
//
//	{
//	  "firebase_api_key": "AIza...",
//	  "backend_url": "https://clinic.example",
//	  "request_timeout": "20s",
//	  "scopes": ["https://www.googleapis.com/auth/spreadsheets"]
//	}
package config
