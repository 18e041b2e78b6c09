package search

// defaultSynonyms maps query terms to related terms appended during
// expansion. The tables are directional: no value appears as a key, so
// expanding an already expanded query is a no-op.
var defaultSynonyms = map[string][]string{
	"search": {"find", "lookup", "retrieve"},
	"delete": {"remove", "erase", "drop"},
	"create": {"add", "insert", "make"},
	"update": {"modify", "change", "edit"},
	"error":  {"failure", "fault", "exception"},
	"config": {"configuration", "settings"},
	"chunk":  {"segment", "piece", "portion"},
	"fast":   {"quick", "rapid", "speedy"},
	"start":  {"begin", "launch", "boot"},
	"stop":   {"halt", "shutdown", "terminate"},
}

// defaultAcronyms maps common technical acronyms to their spelled-out
// forms. The expansion words are appended individually.
var defaultAcronyms = map[string]string{
	"ai":    "artificial intelligence",
	"ml":    "machine learning",
	"dl":    "deep learning",
	"nlp":   "natural language processing",
	"llm":   "large language model",
	"rag":   "retrieval augmented generation",
	"ann":   "approximate nearest neighbor",
	"knn":   "k nearest neighbors",
	"hnsw":  "hierarchical navigable small world",
	"idf":   "inverse document frequency",
	"mmr":   "maximal marginal relevance",
	"rrf":   "reciprocal rank fusion",
	"api":   "application programming interface",
	"sdk":   "software development kit",
	"cli":   "command line interface",
	"gui":   "graphical user interface",
	"ux":    "user experience",
	"http":  "hypertext transfer protocol",
	"https": "hypertext transfer protocol secure",
	"url":   "uniform resource locator",
	"uri":   "uniform resource identifier",
	"json":  "javascript object notation",
	"yaml":  "yaml aint markup language",
	"xml":   "extensible markup language",
	"sql":   "structured query language",
	"db":    "database",
	"orm":   "object relational mapping",
	"rest":  "representational state transfer",
	"grpc":  "google remote procedure call",
	"rpc":   "remote procedure call",
	"tls":   "transport layer security",
	"ssl":   "secure sockets layer",
	"ssh":   "secure shell",
	"dns":   "domain name system",
	"tcp":   "transmission control protocol",
	"udp":   "user datagram protocol",
	"ip":    "internet protocol",
	"auth":  "authentication authorization",
	"sre":   "site reliability engineering",
	"k8s":   "kubernetes",
	"vm":    "virtual machine",
	"os":    "operating system",
	"io":    "input output",
	"cpu":   "central processing unit",
	"gpu":   "graphics processing unit",
	"ram":   "random access memory",
	"ssd":   "solid state drive",
	"csv":   "comma separated values",
	"pdf":   "portable document format",
	"html":  "hypertext markup language",
	"css":   "cascading style sheets",
	"faq":   "frequently asked questions",
	"cdn":   "content delivery network",
	"aws":   "amazon web services",
	"gcp":   "google cloud platform",
	"ttl":   "time to live",
	"lru":   "least recently used",
	"qps":   "queries per second",
	"sla":   "service level agreement",
	"uuid":  "universally unique identifier",
	"ocr":   "optical character recognition",
	"asr":   "automatic speech recognition",
	"tts":   "text to speech",
}
