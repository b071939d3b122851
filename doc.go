// Package qanat is a retrieval-augmented question-answering service core.
//
// A user message enters over SSE, a router picks a chat model (local
// Ollama or a remote OpenAI-compatible API), an agent loop lets the model
// call named tools — knowledge-base retrieval, file access, calculators —
// and the finished turn is persisted to a relational store and streamed
// back as paced segments.
//
// # Quick Start
//
// Wire the two providers into a router, build the agent, stream a turn:
//
//	local := ollama.New()
//	remote := openaicompat.NewProvider(apiKey, "qwen-plus", baseURL)
//	router := qanat.NewRouter(qanat.DefaultRouterConfig("qwen2.5:7b", "qwen-plus"))
//	router.Register("qwen2.5:7b", local, qanat.TagLocal)
//	router.Register("qwen-plus", remote, qanat.TagRemote)
//
//	retriever := qanat.NewVectorRetriever(ollama.NewEmbedder(), index)
//	store := sqlite.New("qanat.db")
//	agent := qanat.NewAgent(router, store,
//		qanat.WithTools(
//			knowledge.New(retriever),
//			basic.New(),
//		),
//	)
//
//	ch := make(chan qanat.TurnEvent, 16)
//	go agent.StreamTurn(ctx, qanat.TurnRequest{UserID: "u1", Message: "你好"}, ch)
//	qanat.ServeSSE(ctx, w, ch)
//
// # Core Interfaces
//
// The root package defines the contracts that all components implement:
//
//   - [Provider] — chat model backend with tool calling
//   - [EmbeddingProvider] — text-to-vector embedding
//   - [VectorIndex] — nearest-neighbour search over stored segments
//   - [ConversationStore] — append-only persisted conversation log
//   - [Tool] — pluggable capability for model function calling
//   - [Retriever] — query-to-passages retrieval over embedding + index
//   - [Tracer] — span emission around turns, steps, and tool calls
//
// # Included Implementations
//
// Providers: provider/ollama (local), provider/openaicompat (DashScope and
// other OpenAI-compatible APIs).
// Vector index: vector/qdrant.
// Storage: store/sqlite (local), store/postgres (pgx pool).
// Tools: tools/knowledge, tools/file, tools/basic, tools/finance, tools/web.
//
// See cmd/qanat for the complete service binary.
package qanat
