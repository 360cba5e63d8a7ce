package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete GovRAG configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Store      StoreConfig      `yaml:"store" json:"store"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" json:"retrieval"`
	Reranker   RerankerConfig   `yaml:"reranker" json:"reranker"`
	LLM        LLMConfig        `yaml:"llm" json:"llm"`
	Grounding  GroundingConfig  `yaml:"grounding" json:"grounding"`
	Topic      TopicConfig      `yaml:"topic" json:"topic"`
	Sessions   SessionsConfig   `yaml:"sessions" json:"sessions"`
	Privacy    PrivacyConfig    `yaml:"privacy" json:"privacy"`
}

// ServerConfig configures the HTTP API and request handling.
type ServerConfig struct {
	Port            int    `yaml:"port" json:"port"`
	RequestTimeoutS int    `yaml:"request_timeout_s" json:"request_timeout_s"`
	MaxQueue        int    `yaml:"max_queue" json:"max_queue"`
	LogLevel        string `yaml:"log_level" json:"log_level"`
}

// StoreConfig configures the chunk metadata store and default index backends.
type StoreConfig struct {
	// LexicalIndexPath is the on-disk location of the bleve-backed lexical index.
	LexicalIndexPath string `yaml:"lexical_index_path" json:"lexical_index_path"`
	// VectorIndexPath is the on-disk location of the hnsw-backed vector index snapshot.
	VectorIndexPath string `yaml:"vector_index_path" json:"vector_index_path"`
	// MetadataPath is the sqlite database holding chunk/document metadata.
	MetadataPath string `yaml:"metadata_path" json:"metadata_path"`
}

// EmbeddingsConfig configures the embedding model used for query vectors.
type EmbeddingsConfig struct {
	// PrimaryModel is the embedding model used for query-time vectors.
	PrimaryModel string `yaml:"primary_model" json:"primary_model"`
	// SecondaryModel is tried if the primary model is unavailable.
	SecondaryModel string `yaml:"secondary_model" json:"secondary_model"`
	// FallbackModel is used when both primary and secondary are unavailable.
	FallbackModel string `yaml:"fallback_model" json:"fallback_model"`
	// Dimensions is the expected embedding dimensionality; a query-time
	// embedding with a different dimension fails the dimension-mismatch guard.
	Dimensions int `yaml:"dimensions" json:"dimensions"`
	BatchSize  int `yaml:"batch_size" json:"batch_size"`
	// CacheSize bounds the embedding LRU cache entry count.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
	// Endpoint is the embedding service's HTTP base URL. The embedder is
	// an external collaborator reached over the network, not a
	// locally-hosted provider.
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// MaxWaitMS bounds how long the in-process batcher holds a single
	// embed request open waiting for more requests to join its batch.
	MaxWaitMS int `yaml:"max_wait_ms" json:"max_wait_ms"`
}

// RetrievalConfig configures hybrid retrieval fusion and shortlist shaping.
type RetrievalConfig struct {
	WBM25        float64 `yaml:"w_bm25" json:"w_bm25"`
	WVector      float64 `yaml:"w_vector" json:"w_vector"`
	WRerank      float64 `yaml:"w_rerank" json:"w_rerank"`
	RRFK         int     `yaml:"rrf_k" json:"rrf_k"`
	TopKBM25     int     `yaml:"topk_bm25" json:"topk_bm25"`
	TopKVector   int     `yaml:"topk_vector" json:"topk_vector"`
	TopKRerank   int     `yaml:"topk_rerank" json:"topk_rerank"`
	MaxPerDoc    int     `yaml:"max_per_doc" json:"max_per_doc"`
	FloorRatio   float64 `yaml:"floor_ratio" json:"floor_ratio"`
	ClassifyMode bool    `yaml:"classify_mode" json:"classify_mode"`
}

// RerankerConfig selects and enables the cross-encoder reranker.
type RerankerConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	ModelID string `yaml:"model_id" json:"model_id"`
}

// LLMConfig configures the generation backend.
type LLMConfig struct {
	Endpoint    string  `yaml:"endpoint" json:"endpoint"`
	Model       string  `yaml:"model" json:"model"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
	TopP        float64 `yaml:"top_p" json:"top_p"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens"`
}

// GroundingConfig configures the Evidence Enforcer's thresholds.
type GroundingConfig struct {
	EvidenceJaccard float64 `yaml:"evidence_jaccard" json:"evidence_jaccard"`
	CitationSentSim float64 `yaml:"citation_sent_sim" json:"citation_sent_sim"`
	CitationSpanIOU float64 `yaml:"citation_span_iou" json:"citation_span_iou"`
	ConfidenceMin   float64 `yaml:"confidence_min" json:"confidence_min"`
}

// TopicConfig configures the Topic Detector's change-detection thresholds.
type TopicConfig struct {
	Enabled             bool    `yaml:"enabled" json:"enabled"`
	SimilarityThreshold float64 `yaml:"similarity_threshold" json:"similarity_threshold"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold" json:"confidence_threshold"`
	MinScoreThreshold   float64 `yaml:"min_score_threshold" json:"min_score_threshold"`
}

// SessionsConfig configures session persistence and retention.
type SessionsConfig struct {
	StoragePath    string `yaml:"storage_path" json:"storage_path"`
	MaxSessions    int    `yaml:"max_sessions" json:"max_sessions"`
	SessionTimeout string `yaml:"session_timeout" json:"session_timeout"`
	AuditRetention string `yaml:"audit_retention" json:"audit_retention"`
}

// PrivacyConfig configures output sanitization.
type PrivacyConfig struct {
	MaskPII bool `yaml:"mask_pii" json:"mask_pii"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Server: ServerConfig{
			Port:            8765,
			RequestTimeoutS: 60,
			MaxQueue:        64,
			LogLevel:        "info",
		},
		Store: StoreConfig{
			LexicalIndexPath: defaultStorePath("lexical"),
			VectorIndexPath:  defaultStorePath("vector"),
			MetadataPath:     defaultStorePath("metadata.db"),
		},
		Embeddings: EmbeddingsConfig{
			PrimaryModel:   "bge-m3",
			SecondaryModel: "multilingual-e5-large",
			FallbackModel:  "static",
			Dimensions:     1024,
			BatchSize:      32,
			CacheSize:      4096,
			Endpoint:       "http://localhost:11434",
			MaxWaitMS:      20,
		},
		Retrieval: RetrievalConfig{
			WBM25:        0.5,
			WVector:      0.5,
			WRerank:      1.0,
			RRFK:         60,
			TopKBM25:     50,
			TopKVector:   50,
			TopKRerank:   20,
			MaxPerDoc:    3,
			FloorRatio:   0.2,
			ClassifyMode: false,
		},
		Reranker: RerankerConfig{
			Enabled: true,
			ModelID: "bge-reranker-v2-m3",
		},
		LLM: LLMConfig{
			Endpoint:    "http://localhost:11434",
			Model:       "qwen2.5:14b-instruct",
			Temperature: 0.1,
			TopP:        0.9,
			MaxTokens:   1024,
		},
		Grounding: GroundingConfig{
			EvidenceJaccard: 0.55,
			CitationSentSim: 0.90,
			CitationSpanIOU: 0.50,
			ConfidenceMin:   0.40,
		},
		Topic: TopicConfig{
			Enabled:             true,
			SimilarityThreshold: 0.30,
			ConfidenceThreshold: 0.15,
			MinScoreThreshold:   0.05,
		},
		Sessions: SessionsConfig{
			StoragePath:    defaultSessionsPath(),
			MaxSessions:    20,
			SessionTimeout: "24h",
			AuditRetention: "720h",
		},
		Privacy: PrivacyConfig{
			MaskPII: true,
		},
	}
}

func defaultStorePath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".govrag", "store", name)
	}
	return filepath.Join(home, ".govrag", "store", name)
}

func defaultSessionsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".govrag", "sessions")
	}
	return filepath.Join(home, ".govrag", "sessions")
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/govrag/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/govrag/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "govrag", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "govrag", "config.yaml")
	}
	return filepath.Join(home, ".config", "govrag", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist (that's OK).
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}
	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}
	return cfg, nil
}

// Load loads configuration from the specified directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/govrag/config.yaml)
//  3. Project config (.govrag.yaml in dir)
//  4. Environment variables (GOVRAG_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from .govrag.yaml or .govrag.yml.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ".govrag.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}
	ymlPath := filepath.Join(dir, ".govrag.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if other.Server.Port != 0 {
		c.Server.Port = other.Server.Port
	}
	if other.Server.RequestTimeoutS != 0 {
		c.Server.RequestTimeoutS = other.Server.RequestTimeoutS
	}
	if other.Server.MaxQueue != 0 {
		c.Server.MaxQueue = other.Server.MaxQueue
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}

	if other.Store.LexicalIndexPath != "" {
		c.Store.LexicalIndexPath = other.Store.LexicalIndexPath
	}
	if other.Store.VectorIndexPath != "" {
		c.Store.VectorIndexPath = other.Store.VectorIndexPath
	}
	if other.Store.MetadataPath != "" {
		c.Store.MetadataPath = other.Store.MetadataPath
	}

	if other.Embeddings.PrimaryModel != "" {
		c.Embeddings.PrimaryModel = other.Embeddings.PrimaryModel
	}
	if other.Embeddings.SecondaryModel != "" {
		c.Embeddings.SecondaryModel = other.Embeddings.SecondaryModel
	}
	if other.Embeddings.FallbackModel != "" {
		c.Embeddings.FallbackModel = other.Embeddings.FallbackModel
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.CacheSize != 0 {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}
	if other.Embeddings.Endpoint != "" {
		c.Embeddings.Endpoint = other.Embeddings.Endpoint
	}
	if other.Embeddings.MaxWaitMS != 0 {
		c.Embeddings.MaxWaitMS = other.Embeddings.MaxWaitMS
	}

	if other.Retrieval.WBM25 != 0 {
		c.Retrieval.WBM25 = other.Retrieval.WBM25
	}
	if other.Retrieval.WVector != 0 {
		c.Retrieval.WVector = other.Retrieval.WVector
	}
	if other.Retrieval.WRerank != 0 {
		c.Retrieval.WRerank = other.Retrieval.WRerank
	}
	if other.Retrieval.RRFK != 0 {
		c.Retrieval.RRFK = other.Retrieval.RRFK
	}
	if other.Retrieval.TopKBM25 != 0 {
		c.Retrieval.TopKBM25 = other.Retrieval.TopKBM25
	}
	if other.Retrieval.TopKVector != 0 {
		c.Retrieval.TopKVector = other.Retrieval.TopKVector
	}
	if other.Retrieval.TopKRerank != 0 {
		c.Retrieval.TopKRerank = other.Retrieval.TopKRerank
	}
	if other.Retrieval.MaxPerDoc != 0 {
		c.Retrieval.MaxPerDoc = other.Retrieval.MaxPerDoc
	}
	if other.Retrieval.FloorRatio != 0 {
		c.Retrieval.FloorRatio = other.Retrieval.FloorRatio
	}
	if other.Retrieval.ClassifyMode {
		c.Retrieval.ClassifyMode = other.Retrieval.ClassifyMode
	}

	if other.Reranker.ModelID != "" {
		c.Reranker.ModelID = other.Reranker.ModelID
	}
	// Enabled defaults true; only an explicit project file can turn it off,
	// which loadYAML's zero-value struct can't express, so env overrides
	// remain the authoritative way to disable the reranker at runtime.

	if other.LLM.Endpoint != "" {
		c.LLM.Endpoint = other.LLM.Endpoint
	}
	if other.LLM.Model != "" {
		c.LLM.Model = other.LLM.Model
	}
	if other.LLM.Temperature != 0 {
		c.LLM.Temperature = other.LLM.Temperature
	}
	if other.LLM.TopP != 0 {
		c.LLM.TopP = other.LLM.TopP
	}
	if other.LLM.MaxTokens != 0 {
		c.LLM.MaxTokens = other.LLM.MaxTokens
	}

	if other.Grounding.EvidenceJaccard != 0 {
		c.Grounding.EvidenceJaccard = other.Grounding.EvidenceJaccard
	}
	if other.Grounding.CitationSentSim != 0 {
		c.Grounding.CitationSentSim = other.Grounding.CitationSentSim
	}
	if other.Grounding.CitationSpanIOU != 0 {
		c.Grounding.CitationSpanIOU = other.Grounding.CitationSpanIOU
	}
	if other.Grounding.ConfidenceMin != 0 {
		c.Grounding.ConfidenceMin = other.Grounding.ConfidenceMin
	}

	if other.Topic.SimilarityThreshold != 0 {
		c.Topic.SimilarityThreshold = other.Topic.SimilarityThreshold
	}
	if other.Topic.ConfidenceThreshold != 0 {
		c.Topic.ConfidenceThreshold = other.Topic.ConfidenceThreshold
	}
	if other.Topic.MinScoreThreshold != 0 {
		c.Topic.MinScoreThreshold = other.Topic.MinScoreThreshold
	}

	if other.Sessions.StoragePath != "" {
		c.Sessions.StoragePath = other.Sessions.StoragePath
	}
	if other.Sessions.MaxSessions > 0 {
		c.Sessions.MaxSessions = other.Sessions.MaxSessions
	}
	if other.Sessions.SessionTimeout != "" {
		c.Sessions.SessionTimeout = other.Sessions.SessionTimeout
	}
	if other.Sessions.AuditRetention != "" {
		c.Sessions.AuditRetention = other.Sessions.AuditRetention
	}
}

// applyEnvOverrides applies GOVRAG_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("GOVRAG_SERVER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("GOVRAG_REQUEST_TIMEOUT_S"); v != "" {
		if s, err := strconv.Atoi(v); err == nil && s > 0 {
			c.Server.RequestTimeoutS = s
		}
	}
	if v := os.Getenv("GOVRAG_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}

	if v := os.Getenv("GOVRAG_W_BM25"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 {
			c.Retrieval.WBM25 = w
		}
	}
	if v := os.Getenv("GOVRAG_W_VECTOR"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 {
			c.Retrieval.WVector = w
		}
	}
	if v := os.Getenv("GOVRAG_RRF_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Retrieval.RRFK = k
		}
	}
	if v := os.Getenv("GOVRAG_RERANKER_ENABLED"); v != "" {
		c.Reranker.Enabled = strings.ToLower(v) == "true" || v == "1"
	}

	if v := os.Getenv("GOVRAG_LLM_ENDPOINT"); v != "" {
		c.LLM.Endpoint = v
	}
	if v := os.Getenv("GOVRAG_EMBEDDINGS_ENDPOINT"); v != "" {
		c.Embeddings.Endpoint = v
	}
	if v := os.Getenv("GOVRAG_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}

	if v := os.Getenv("GOVRAG_TOPIC_ENABLED"); v != "" {
		c.Topic.Enabled = strings.ToLower(v) == "true" || v == "1"
	}

	if v := os.Getenv("GOVRAG_MASK_PII"); v != "" {
		c.Privacy.MaskPII = strings.ToLower(v) == "true" || v == "1"
	}

	if v := os.Getenv("GOVRAG_SESSIONS_STORAGE_PATH"); v != "" {
		c.Sessions.StoragePath = v
	}
}

// parseFloat64 parses a string to float64, used for config parsing.
func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &f)
	return f, err
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Retrieval.WBM25 < 0 || c.Retrieval.WVector < 0 || c.Retrieval.WRerank < 0 {
		return fmt.Errorf("retrieval weights must be non-negative")
	}
	if c.Retrieval.RRFK <= 0 {
		return fmt.Errorf("retrieval.rrf_k must be positive, got %d", c.Retrieval.RRFK)
	}
	if c.Retrieval.MaxPerDoc <= 0 {
		return fmt.Errorf("retrieval.max_per_doc must be positive, got %d", c.Retrieval.MaxPerDoc)
	}
	if c.Retrieval.FloorRatio < 0 || c.Retrieval.FloorRatio > 1 {
		return fmt.Errorf("retrieval.floor_ratio must be between 0 and 1, got %f", c.Retrieval.FloorRatio)
	}

	if c.Grounding.EvidenceJaccard < 0 || c.Grounding.EvidenceJaccard > 1 {
		return fmt.Errorf("grounding.evidence_jaccard must be between 0 and 1, got %f", c.Grounding.EvidenceJaccard)
	}
	if c.Grounding.CitationSentSim < 0 || c.Grounding.CitationSentSim > 1 {
		return fmt.Errorf("grounding.citation_sent_sim must be between 0 and 1, got %f", c.Grounding.CitationSentSim)
	}
	if c.Grounding.CitationSpanIOU < 0 || c.Grounding.CitationSpanIOU > 1 {
		return fmt.Errorf("grounding.citation_span_iou must be between 0 and 1, got %f", c.Grounding.CitationSpanIOU)
	}
	if math.IsNaN(c.Grounding.ConfidenceMin) {
		return fmt.Errorf("grounding.confidence_min must be a number")
	}

	if c.Embeddings.Dimensions <= 0 {
		return fmt.Errorf("embeddings.dimensions must be positive, got %d", c.Embeddings.Dimensions)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	if c.Server.RequestTimeoutS <= 0 {
		return fmt.Errorf("server.request_timeout_s must be positive, got %d", c.Server.RequestTimeoutS)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// SessionTimeoutDuration parses Sessions.SessionTimeout, defaulting to 24h on
// a parse error so a malformed override degrades rather than panics.
func (c *Config) SessionTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Sessions.SessionTimeout)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// AuditRetentionDuration parses Sessions.AuditRetention, defaulting to 30 days.
func (c *Config) AuditRetentionDuration() time.Duration {
	d, err := time.ParseDuration(c.Sessions.AuditRetention)
	if err != nil {
		return 30 * 24 * time.Hour
	}
	return d
}
