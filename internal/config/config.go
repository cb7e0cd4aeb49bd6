package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file specified by INTEGRITY_ENV (or .env by default),
// then loads the corresponding .secret file if it exists.
// All config is flat env vars read via os.Getenv after loading.
func Load() error {
	envFile := os.Getenv("INTEGRITY_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	// Load main env file (ignore error if file doesn't exist)
	_ = godotenv.Load(envFile)

	// Load secret sidecar if it exists
	_ = godotenv.Load(envFile + ".secret")

	return nil
}

func intOr(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func floatOr(key string, def float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func durationOr(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func stringOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func ServerPort() int {
	return intOr("SERVER_PORT", 8080)
}

func ServerAddr() string {
	return fmt.Sprintf(":%d", ServerPort())
}

func DatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}

// MigrationsPath overrides the embedded schema with a directory of
// golang-migrate scripts. Empty means embedded.
func MigrationsPath() string {
	return os.Getenv("MIGRATIONS_PATH")
}

// StorageBackend selects where snapshots, the session ledger and events live.
// Defaults to "postgres" when DATABASE_URL is set, else "badger".
// Valid values: postgres, badger, memory
func StorageBackend() string {
	if b := os.Getenv("STORAGE_BACKEND"); b != "" {
		return strings.ToLower(b)
	}
	if DatabaseURL() != "" {
		return "postgres"
	}
	return "badger"
}

func BadgerPath() string {
	return stringOr("BADGER_PATH", "data/integrity")
}

// SeedFile is a YAML seed applied when the store starts empty. Empty means
// the built-in seed.
func SeedFile() string {
	return os.Getenv("SEED_FILE")
}

// SnapshotInterval is how often the graph is persisted.
// Defaults to 1m if not set.
func SnapshotInterval() time.Duration {
	return durationOr("SNAPSHOT_INTERVAL", time.Minute)
}

// APIKeys returns the accepted bearer tokens. Empty disables auth.
func APIKeys() []string {
	var keys []string
	for _, k := range strings.Split(os.Getenv("API_KEYS"), ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func OpenAIAPIKey() string {
	return os.Getenv("OPENAI_API_KEY")
}

// LLMProvider returns the configured LLM provider.
// Defaults to "openai" if not set.
// Valid values: openai, mock
func LLMProvider() string {
	return stringOr("LLM_PROVIDER", "openai")
}

// LLMAPIKey returns the API key for the configured LLM provider.
func LLMAPIKey() string {
	switch LLMProvider() {
	case "mock":
		return ""
	default:
		return OpenAIAPIKey()
	}
}

// RateLimitRPS returns requests per second limit.
// Defaults to 100 if not set.
func RateLimitRPS() float64 {
	return floatOr("RATE_LIMIT_RPS", 100)
}

// RateLimitBurst returns the burst size for rate limiting.
// Defaults to 20 if not set.
func RateLimitBurst() int {
	return intOr("RATE_LIMIT_BURST", 20)
}

// LogLevel returns the log level (debug, info, warn, error).
// Defaults to "info" if not set.
func LogLevel() string {
	return stringOr("LOG_LEVEL", "info")
}

func QueryMaxHops() int {
	return intOr("QUERY_MAX_HOPS", 3)
}

func QueryMaxVisits() int {
	return intOr("QUERY_MAX_VISITS", 10000)
}

func QueryTimeout() time.Duration {
	return time.Duration(intOr("QUERY_TIMEOUT_MS", 250)) * time.Millisecond
}

func DetectorSemanticWeight() float64 {
	return floatOr("DETECTOR_SEMANTIC_WEIGHT", 0.85)
}

func DetectorEpistemicWeight() float64 {
	return floatOr("DETECTOR_EPISTEMIC_WEIGHT", 0.10)
}

func DetectorSelfModelWeight() float64 {
	return floatOr("DETECTOR_SELF_MODEL_WEIGHT", 0.05)
}

// DetectorUnknownEntityPenalty is added to the epistemic component for each
// entity the graph cannot resolve, up to DetectorUnknownEntityCap.
func DetectorUnknownEntityPenalty() float64 {
	return floatOr("DETECTOR_UNKNOWN_ENTITY_PENALTY", 0.4)
}

func DetectorUnknownEntityCap() float64 {
	return floatOr("DETECTOR_UNKNOWN_ENTITY_CAP", 0.9)
}

func DetectorUnknownRelationPenalty() float64 {
	return floatOr("DETECTOR_UNKNOWN_RELATION_PENALTY", 0.3)
}

func DetectorDegradedEpistemic() float64 {
	return floatOr("DETECTOR_DEGRADED_EPISTEMIC", 0.5)
}

func DetectorClosedWorldWeight() float64 {
	return floatOr("DETECTOR_CLOSED_WORLD_WEIGHT", 0.9)
}

func DetectorFunctionalWeight() float64 {
	return floatOr("DETECTOR_FUNCTIONAL_WEIGHT", 0.75)
}

// DetectorTypingFloor is the least confident typing edge that still counts
// toward closed-world exclusion.
func DetectorTypingFloor() float64 {
	return floatOr("DETECTOR_TYPING_FLOOR", 0.5)
}

// DetectorSubstituteFloor is the least confident edge offered as a correction.
func DetectorSubstituteFloor() float64 {
	return floatOr("DETECTOR_SUBSTITUTE_FLOOR", 0.6)
}

func InhibitWindow() int {
	return intOr("INHIBIT_WINDOW", 3)
}

// InhibitAggregation is one of max, mean, ewma. Defaults to max.
func InhibitAggregation() string {
	return strings.ToLower(stringOr("INHIBIT_AGGREGATION", "max"))
}

func InhibitEWMAAlpha() float64 {
	return floatOr("INHIBIT_EWMA_ALPHA", 0.5)
}

func InhibitQualifyThreshold() float64 {
	return floatOr("INHIBIT_QUALIFY_THRESHOLD", 0.30)
}

func InhibitAbortThreshold() float64 {
	return floatOr("INHIBIT_ABORT_THRESHOLD", 0.70)
}

func InhibitAbortDwell() int {
	return intOr("INHIBIT_ABORT_DWELL", 2)
}

func InhibitHysteresis() int {
	return intOr("INHIBIT_HYSTERESIS", 2)
}

func InhibitReframeMargin() float64 {
	return floatOr("INHIBIT_REFRAME_MARGIN", 0.15)
}

// SessionTokenBudget is the default token budget of a session.
func SessionTokenBudget() int {
	return intOr("SESSION_TOKEN_BUDGET", 256)
}

func SessionIdleTimeout() time.Duration {
	return durationOr("SESSION_IDLE_TIMEOUT", 10*time.Minute)
}

func EpisodicDecayFactor() float64 {
	return floatOr("EPISODIC_DECAY_FACTOR", 0.9)
}

func EpisodicRetention() float64 {
	return floatOr("EPISODIC_RETENTION", 0.1)
}

func DecayInterval() time.Duration {
	return durationOr("DECAY_INTERVAL", time.Hour)
}

func ConsolidationInterval() time.Duration {
	return durationOr("CONSOLIDATION_INTERVAL", 30*time.Second)
}

func ReinforceWeight() float64 {
	return floatOr("CONSOLIDATION_REINFORCE_WEIGHT", 0.2)
}

func KnownFalseWeight() float64 {
	return floatOr("CONSOLIDATION_KNOWN_FALSE_WEIGHT", 0.5)
}

func ObservationWeight() float64 {
	return floatOr("CONSOLIDATION_OBSERVATION_WEIGHT", 0.3)
}
