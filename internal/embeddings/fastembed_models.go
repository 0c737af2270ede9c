package embeddings

const providerFastEmbed = "fastembed"

// FastEmbedConfig configures the FastEmbed provider.
type FastEmbedConfig struct {
	// Model is a HuggingFace model name, e.g. BAAI/bge-small-en-v1.5.
	Model string

	// CacheDir holds downloaded model files.
	CacheDir string

	// MaxLength is the maximum input sequence length (default 512).
	MaxLength int
}

var fastEmbedDimensions = map[string]int{
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-small-en":                      384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-base-en":                       768,
	"BAAI/bge-small-zh-v1.5":                 512,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
}

// FastEmbedDimension returns the output size of a supported model.
func FastEmbedDimension(model string) (int, bool) {
	dim, ok := fastEmbedDimensions[model]
	return dim, ok
}
