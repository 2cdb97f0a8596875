// Command policyqa ingests policy documents into a vector store and
// answers questions about them with cited evidence.
//
// Usage:
//
//	policyqa ingest -citation "Acme Travel Policy, 2023" policy.html
//	policyqa ask -policy "Acme Travel" "Am I covered for lost luggage?"
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sweetpotato0/policyqa/agent"
	"github.com/sweetpotato0/policyqa/cite"
	geminiembedder "github.com/sweetpotato0/policyqa/contrib/embedder/gemini"
	"github.com/sweetpotato0/policyqa/contrib/embedder/openai"
	"github.com/sweetpotato0/policyqa/contrib/provider/claude"
	"github.com/sweetpotato0/policyqa/contrib/provider/gemini"
	openaiprovider "github.com/sweetpotato0/policyqa/contrib/provider/openai"
	mongostore "github.com/sweetpotato0/policyqa/contrib/store/mongo"
	pgstore "github.com/sweetpotato0/policyqa/contrib/store/pg"
	"github.com/sweetpotato0/policyqa/engine"
	"github.com/sweetpotato0/policyqa/llm"
	"github.com/sweetpotato0/policyqa/pkg/logging"
	"github.com/sweetpotato0/policyqa/pkg/telemetry"
	"github.com/sweetpotato0/policyqa/policy"
	"github.com/sweetpotato0/policyqa/reader"
	"github.com/sweetpotato0/policyqa/session"
	sessionstore "github.com/sweetpotato0/policyqa/session/store"
	"github.com/sweetpotato0/policyqa/store"
	"github.com/sweetpotato0/policyqa/tool/mcp"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx := context.Background()
	logger := logging.WithComponent("cli")

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "policyqa",
		Disable:     os.Getenv("POLICYQA_TRACING") == "",
	})
	if err != nil {
		logger.Error("telemetry init failed", "error", err)
		os.Exit(1)
	}
	defer shutdown(ctx)

	switch os.Args[1] {
	case "ingest":
		err = runIngest(ctx, os.Args[2:])
	case "ask":
		err = runAsk(ctx, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: policyqa <ingest|ask> [flags] args...")
}

func runIngest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	citation := fs.String("citation", "", "citation string for the document (required)")
	storeKind := fs.String("store", "memory", "vector store backend: memory, pg or mongo")
	embedderKind := fs.String("embedder", "openai", "embedding backend: openai or gemini")
	fs.Parse(args)

	if *citation == "" || fs.NArg() == 0 {
		return fmt.Errorf("ingest requires -citation and at least one file")
	}

	vs, cleanup, err := openStore(*storeKind)
	if err != nil {
		return err
	}
	defer cleanup()

	embedder, closeEmbedder, err := newEmbedder(ctx, *embedderKind)
	if err != nil {
		return err
	}
	defer closeEmbedder()

	r := reader.New()
	for _, path := range fs.Args() {
		doc, chunks, err := r.ReadFile(path, *citation)
		if err != nil {
			return err
		}
		if err := reader.Ingest(ctx, vs, embedder, chunks); err != nil {
			return fmt.Errorf("ingest %s: %w", path, err)
		}
		fmt.Printf("ingested %s as %s (%d chunks, dockey %s)\n",
			path, doc.Docname, len(chunks), doc.Dockey)
	}
	return nil
}

func runAsk(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	storeKind := fs.String("store", "memory", "vector store backend: memory, pg or mongo")
	provider := fs.String("provider", "openai", "chat provider: openai, claude or gemini")
	model := fs.String("model", "", "chat model name (provider default when empty)")
	embedderKind := fs.String("embedder", "openai", "embedding backend: openai or gemini")
	policyFile := fs.String("policies", "", "JSON file mapping policy names to dockeys")
	policyName := fs.String("policy", "", "scope retrieval to this policy")
	suggest := fs.Bool("suggest", false, "print follow-up suggestions after the answer")
	redisAddr := fs.String("redis", "", "Redis address for session persistence (e.g. localhost:6379)")
	sessionID := fs.String("session", "", "resume the session with this ID (requires -redis)")
	mcpCommand := fs.String("mcp", "", "command launching an MCP server whose tools join the loop")
	fs.Parse(args)

	if fs.NArg() == 0 {
		return fmt.Errorf("ask requires a question")
	}
	query := strings.Join(fs.Args(), " ")

	vs, cleanup, err := openStore(*storeKind)
	if err != nil {
		return err
	}
	defer cleanup()

	client, err := newChatClient(ctx, *provider, *model)
	if err != nil {
		return err
	}

	policies := policy.NewRegistry()
	if *policyFile != "" {
		f, err := os.Open(*policyFile)
		if err != nil {
			return fmt.Errorf("open policy catalog: %w", err)
		}
		err = policies.Load(f)
		f.Close()
		if err != nil {
			return err
		}
	}

	embedder, closeEmbedder, err := newEmbedder(ctx, *embedderKind)
	if err != nil {
		return err
	}
	defer closeEmbedder()

	engineOpts := []engine.Option{engine.WithPolicies(policies)}
	if *mcpCommand != "" {
		mcpClient, err := mcp.NewStdioClient(ctx, *mcpCommand)
		if err != nil {
			return fmt.Errorf("connect MCP server: %w", err)
		}
		defer mcpClient.Close()
		remoteTools, err := mcpClient.BuildTools(ctx)
		if err != nil {
			return fmt.Errorf("list MCP tools: %w", err)
		}
		engineOpts = append(engineOpts, engine.WithExtraTools(remoteTools...))
	}

	eng := engine.New(vs, embedder, client, engineOpts...)

	sess := session.New()
	var sessions *sessionstore.RedisStore
	if *redisAddr != "" {
		sessions = sessionstore.NewRedisStore(&sessionstore.RedisConfig{
			Addr:   *redisAddr,
			Prefix: "policyqa:session:",
			TTL:    24 * time.Hour,
		})
		defer sessions.Close()
		if *sessionID != "" {
			record, err := sessions.Load(ctx, *sessionID)
			if err != nil {
				return fmt.Errorf("resume session: %w", err)
			}
			sess.Restore(record)
		}
	} else if *sessionID != "" {
		return fmt.Errorf("-session requires -redis")
	}

	result, err := eng.Ask(ctx, sess, query, *policyName, func(event agent.Event) {
		switch e := event.(type) {
		case agent.ToolStarted:
			fmt.Fprintf(os.Stderr, "... %s\n", e.Desc)
		case agent.ToolFinished:
			fmt.Fprintf(os.Stderr, "... %s\n", e.Output)
		}
	})
	if err != nil {
		return err
	}

	fmt.Println(result.Text)
	if len(result.References) > 0 {
		fmt.Println("\nReferences:")
		fmt.Println(cite.Bibliography(result.References))
	}
	if *suggest {
		for _, s := range eng.Suggest(ctx, sess) {
			fmt.Printf("suggested: %s\n", s)
		}
	}
	if sessions != nil {
		if err := sessions.Save(ctx, sess.Snapshot()); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
		fmt.Fprintf(os.Stderr, "session: %s\n", sess.ID)
	}
	fmt.Fprintf(os.Stderr, "cost: $%.4f\n", sess.Costs.TotalCost())
	return nil
}

func openStore(kind string) (store.VectorStore, func(), error) {
	switch kind {
	case "memory":
		return store.NewMemoryStore(), func() {}, nil
	case "pg":
		s, err := pgstore.New(nil)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case "mongo":
		s, err := mongostore.New(nil)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close(context.Background()) }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", kind)
	}
}

func newEmbedder(ctx context.Context, kind string) (llm.Embedder, func(), error) {
	switch kind {
	case "openai":
		e := openai.New(os.Getenv("OPENAI_API_KEY"), os.Getenv("OPENAI_API_BASE_URL"),
			"text-embedding-3-small", 1536)
		return e, func() {}, nil
	case "gemini":
		e, err := geminiembedder.New(ctx, os.Getenv("GEMINI_API_KEY"), "text-embedding-004", 768)
		if err != nil {
			return nil, nil, err
		}
		return e, func() { e.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown embedding backend %q", kind)
	}
}

func newChatClient(ctx context.Context, provider, model string) (llm.ChatClient, error) {
	switch provider {
	case "openai":
		config := openaiprovider.DefaultConfig()
		config.APIKey = os.Getenv("OPENAI_API_KEY")
		config.BaseURL = os.Getenv("OPENAI_API_BASE_URL")
		if model != "" {
			config.Model = model
		}
		return openaiprovider.New(config), nil
	case "claude":
		config := claude.DefaultConfig(os.Getenv("ANTHROPIC_API_KEY"), "")
		if model != "" {
			config.Model = model
		}
		return claude.New(config), nil
	case "gemini":
		config := gemini.DefaultConfig(os.Getenv("GEMINI_API_KEY"))
		if model != "" {
			config.Model = model
		}
		return gemini.New(ctx, config)
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}
