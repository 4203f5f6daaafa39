package config

import "runtime"

// The tunables below are read from hot paths; every numeric, float and bool
// Get is a single atomic load, while the log-level enum is read under a read
// lock. Ranges are validated at set time and bad values return ERR.
var (
	QueryStringDepth      = NewNumber("query-string-depth", 1000, 1, 1<<32-1)
	QueryStringTermsCount = NewNumber("query-string-terms-count", 16, 1, 32)

	MaxPrefixes           = NewNumber("max-prefixes", 8, 1, 16)
	MaxTagFieldLength     = NewNumber("max-tag-field-length", 256, 1, 1<<20)
	MaxNumericFieldLength = NewNumber("max-numeric-field-length", 128, 1, 1<<20)

	MaxVectorAttributes     = NewNumber("max-vector-attributes", 50, 1, 100)
	MaxVectorDimensions     = NewNumber("max-vector-dimensions", 32768, 1, 64000)
	MaxVectorM              = NewNumber("max-vector-m", 2_000_000, 1, 1<<32-1)
	MaxVectorEfConstruction = NewNumber("max-vector-ef-construction", 4096, 1, 1<<32-1)
	MaxVectorEfRuntime      = NewNumber("max-vector-ef-runtime", 4096, 1, 1<<32-1)
	HnswBlockSize           = NewNumber("hnsw-block-size", 10240, 0, 1<<32-1)

	DefaultTimeoutMs  = NewNumber("default-timeout-ms", 50000, 1, 60000)
	MaxKnn            = NewNumber("max-knn", 10000, 1, 100000)
	MaxTermExpansions = NewNumber("max-term-expansions", 200, 1, 100000)

	ReaderThreads  = NewNumber("reader-threads", int64(runtime.NumCPU()), 1, 1024)
	WriterThreads  = NewNumber("writer-threads", int64(runtime.NumCPU()), 1, 1024)
	UtilityThreads = NewNumber("utility-threads", int64(runtime.NumCPU()), 1, 1024)

	PrefilterThresholdRatio = NewFloat("prefilter-threshold-ratio", 0.3, 0.0, 1.0)
	FanoutDataUniformity    = NewNumber("fanout-data-uniformity-percent", 100, 0, 100)
	ResultBufferMultiplier  = NewFloat("search-result-buffer-multiplier", 1.5, 1.0, 1000.0)

	EnablePartialResults    = NewBool("enable-partial-results", true)
	EnableConsistentResults = NewBool("enable-consistent-results", false)

	AsyncFanoutThreshold  = NewNumber("async-fanout-threshold", 30, 1, 10000)
	ClusterMapExpirationMs = NewNumber("cluster-map-expiration-ms", 250, 0, 3_600_000)
	InfoTimeoutMs          = NewNumber("ft-info-timeout-ms", 5000, 100, 300000)
	InfoRPCTimeoutMs       = NewNumber("ft-info-rpc-timeout-ms", 2500, 100, 300000)

	TimeoutPollFrequency = NewNumber("timeout-poll-frequency", 100, 1, 1<<62)
	DebugForceTimeout    = NewBool("debug-force-timeout", false)

	LogLevel = NewEnum("log-level", "notice", "warning", "notice", "verbose", "debug")
)
