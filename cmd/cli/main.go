package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	apiKey    string
	timeout   string
	language  string
	memoryMB  int64
	sessionID string
	callerID  string
	imageDir  string
)

func main() {
	root := &cobra.Command{
		Use:   "sandbox-cli",
		Short: "CLI client for script-sandbox",
	}

	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	root.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("SANDBOX_API_KEY"), "API key")

	execCmd := &cobra.Command{
		Use:   "exec [code]",
		Short: "Execute a script in the sandbox (reads stdin when no argument)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runExec,
	}
	execCmd.Flags().StringVar(&timeout, "timeout", "30s", "Execution timeout")
	execCmd.Flags().StringVarP(&language, "language", "l", "python", "Language (python)")
	execCmd.Flags().Int64Var(&memoryMB, "memory", 512, "Memory limit in MB")
	execCmd.Flags().StringVar(&sessionID, "session", "", "Session ID (preloads the session's dataset as df)")
	execCmd.Flags().StringVar(&callerID, "caller", "", "Caller ID recorded with the execution")
	execCmd.Flags().StringVar(&imageDir, "save-images", "", "Directory to save extracted chart images into")
	root.AddCommand(execCmd)

	execFileCmd := &cobra.Command{
		Use:   "exec-file [file]",
		Short: "Execute a script from a file",
		Args:  cobra.ExactArgs(1),
		RunE:  runExecFile,
	}
	execFileCmd.Flags().StringVar(&timeout, "timeout", "30s", "Execution timeout")
	execFileCmd.Flags().StringVarP(&language, "language", "l", "", "Language (auto-detected from extension)")
	execFileCmd.Flags().Int64Var(&memoryMB, "memory", 512, "Memory limit in MB")
	execFileCmd.Flags().StringVar(&sessionID, "session", "", "Session ID (preloads the session's dataset as df)")
	execFileCmd.Flags().StringVar(&callerID, "caller", "", "Caller ID recorded with the execution")
	execFileCmd.Flags().StringVar(&imageDir, "save-images", "", "Directory to save extracted chart images into")
	root.AddCommand(execFileCmd)

	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE:  runHealth,
	})

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recent executions",
		RunE:  runHistory,
	}
	historyCmd.Flags().StringVar(&sessionID, "session", "", "Filter by session ID")
	historyCmd.Flags().StringVar(&callerID, "caller", "", "Filter by caller ID")
	root.AddCommand(historyCmd)

	root.AddCommand(&cobra.Command{
		Use:   "get [execution-id]",
		Short: "Show one execution record",
		Args:  cobra.ExactArgs(1),
		RunE:  runGet,
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runExec(cmd *cobra.Command, args []string) error {
	var code string

	if len(args) > 0 {
		code = args[0]
	} else {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		code = string(data)
	}

	return executeCode(code, language)
}

func runExecFile(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}

	if language == "" {
		switch ext := filepath.Ext(args[0]); ext {
		case ".py":
			language = "python"
		default:
			return fmt.Errorf("cannot detect language for extension %q, use --language flag", ext)
		}
	}

	return executeCode(string(data), language)
}

func executeCode(code, lang string) error {
	payload := map[string]any{
		"code":            code,
		"language":        lang,
		"timeout":         timeout,
		"memory_limit_mb": memoryMB,
	}
	if sessionID != "" {
		payload["session_id"] = sessionID
	}
	if callerID != "" {
		payload["caller_id"] = callerID
	}

	body, _ := json.Marshal(payload)

	req, err := http.NewRequest("POST", serverURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	client := &http.Client{Timeout: 130 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	if imageDir != "" {
		if err := saveImages(result); err != nil {
			fmt.Fprintf(os.Stderr, "saving images: %v\n", err)
		}
		// Keep the JSON dump readable.
		delete(result, "images")
	}

	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))

	if success, ok := result["success"].(bool); ok && !success {
		os.Exit(1)
	}

	return nil
}

func saveImages(result map[string]any) error {
	raw, ok := result["images"].([]any)
	if !ok || len(raw) == 0 {
		return nil
	}

	if err := os.MkdirAll(imageDir, 0o750); err != nil {
		return err
	}

	for _, entry := range raw {
		img, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		name, _ := img["name"].(string)
		encoded, _ := img["data"].(string)
		if name == "" || encoded == "" {
			continue
		}

		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return fmt.Errorf("decoding %s: %w", name, err)
		}

		path := filepath.Join(imageDir, filepath.Base(name))
		if err := os.WriteFile(path, data, 0o640); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "saved %s\n", path)
	}
	return nil
}

func runHealth(_ *cobra.Command, _ []string) error {
	resp, err := http.Get(serverURL + "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	var result map[string]any
	json.NewDecoder(resp.Body).Decode(&result)
	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))
	return nil
}

func runHistory(_ *cobra.Command, _ []string) error {
	url := serverURL + "/executions"
	sep := "?"
	if sessionID != "" {
		url += sep + "session_id=" + sessionID
		sep = "&"
	}
	if callerID != "" {
		url += sep + "caller_id=" + callerID
	}

	return getJSON(url)
}

func runGet(_ *cobra.Command, args []string) error {
	return getJSON(serverURL + "/executions/" + args[0])
}

func getJSON(url string) error {
	req, _ := http.NewRequest("GET", url, nil)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var result any
	json.NewDecoder(resp.Body).Decode(&result)
	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))
	return nil
}
