package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ayurscan/backend/internal/client/analysis"
	"github.com/ayurscan/backend/internal/client/cloudinary"
	"github.com/ayurscan/backend/internal/config"
	"github.com/ayurscan/backend/internal/logging"
	modelchat "github.com/ayurscan/backend/internal/model/chat"
	"github.com/ayurscan/backend/internal/render"
	"github.com/ayurscan/backend/internal/service/ai"
	"github.com/ayurscan/backend/internal/service/chat"
	"github.com/ayurscan/backend/internal/service/orchestrator"
)

// analyzeCmd runs capture → upload → analysis → chat priming for one image.
var analyzeCmd = &cobra.Command{
	Use:   "analyze <image>",
	Short: "Upload an image and print its report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := runAnalysis(cmd.Context(), cmd.OutOrStdout(), args[0])
		return err
	},
}

// chatCmd analyzes an image, then chats about the report on stdin.
var chatCmd = &cobra.Command{
	Use:   "chat <image>",
	Short: "Analyze an image, then chat about the report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := runAnalysis(cmd.Context(), cmd.OutOrStdout(), args[0])
		if err != nil {
			return err
		}
		return chatLoop(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), sess)
	},
}

type cliSession struct {
	id   string
	flow *orchestrator.Service
}

func newFlow(ctx context.Context) (*orchestrator.Service, *chat.Service, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if analysisURL != "" {
		cfg.Analysis.BaseURL = strings.TrimRight(analysisURL, "/")
	}
	if !cfg.Analysis.Enabled() {
		return nil, nil, fmt.Errorf("analysis service URL missing: set ANALYSIS_BASE_URL or --analysis-url")
	}

	logger, err := logging.New(logLevel, "console")
	if err != nil {
		return nil, nil, err
	}

	httpClient := &http.Client{Timeout: cfg.Analysis.Timeout}
	uploader := cloudinary.New(cloudinary.Config{
		BaseURL:      cfg.Cloudinary.BaseURL,
		CloudName:    cfg.Cloudinary.CloudName,
		UploadPreset: cfg.Cloudinary.UploadPreset,
	}, httpClient, logger)
	remote := analysis.New(cfg.Analysis.BaseURL, httpClient, logger)

	var backend orchestrator.ChatBackend = remote
	if cfg.Analysis.ChatBackend == config.ChatBackendLLM && cfg.AI.Enabled() {
		chatModel, err := cfg.AI.NewChatModel(ctx)
		if err != nil {
			return nil, nil, err
		}
		svc, err := ai.NewService(ctx, chatModel, logger)
		if err != nil {
			return nil, nil, err
		}
		backend = svc
	} else if cfg.Analysis.ChatBackend == config.ChatBackendLLM {
		logger.Warn("CHAT_BACKEND=llm but Ark credentials are missing, using remote chat")
	}

	store := chat.NewService()
	return orchestrator.NewService(store, uploader, remote, backend, nil, logger), store, nil
}

func runAnalysis(ctx context.Context, out io.Writer, path string) (*cliSession, error) {
	flow, store, err := newFlow(ctx)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}

	session, err := store.CreateSession(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := flow.StartCapture(ctx, session.ID); err != nil {
		return nil, err
	}

	fmt.Fprintln(out, "⏳ Analyzing image...")
	state, captured, err := flow.CaptureFrame(ctx, session.ID, orchestrator.FrameFromBytes(data))
	if err != nil {
		return nil, err
	}
	if !captured {
		return nil, fmt.Errorf("%s: empty image", path)
	}

	fmt.Fprintln(out, render.Report(state.Report))
	printTranscript(out, state.Transcript)
	return &cliSession{id: session.ID, flow: flow}, nil
}

func chatLoop(ctx context.Context, in io.Reader, out io.Writer, sess *cliSession) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "/quit" {
			return nil
		}

		state, err := sess.flow.SendChatMessage(ctx, sess.id, line)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		} else if strings.TrimSpace(line) != "" && len(state.Transcript) > 0 {
			printTranscript(out, state.Transcript[len(state.Transcript)-1:])
		}
		fmt.Fprint(out, "> ")
	}
	return scanner.Err()
}

func printTranscript(out io.Writer, messages []modelchat.Message) {
	for _, line := range render.Transcript(messages) {
		fmt.Fprintln(out, line)
	}
}
