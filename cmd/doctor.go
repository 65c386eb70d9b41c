package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"arxivd/config"
	"arxivd/internal/llm"
	"arxivd/internal/store"
)

func doctorCMD() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			out := cmd.OutOrStdout()
			ok := true

			fmt.Fprintln(out, "=== Configuration Check ===")
			fmt.Fprintf(out, "  Categories: %s\n", strings.Join(cfg.Arxiv.Categories, ", "))
			fmt.Fprintf(out, "  Max papers/day: %d\n", cfg.Arxiv.MaxPapersPerDay)
			fmt.Fprintf(out, "  Time window: %dh\n", cfg.Arxiv.TimeWindowHours)
			fmt.Fprintf(out, "  LLM URL: %s\n", cfg.LLM.BaseURL)
			fmt.Fprintf(out, "  LLM Model: %s\n", cfg.LLM.Model)
			fmt.Fprintf(out, "  DB path: %s\n", cfg.Storage.DBPath)
			fmt.Fprintf(out, "  Push channels: %s\n", strings.Join(cfg.Push.Channels, ", "))
			fmt.Fprintf(out, "  Schedule: %s %s\n", cfg.Schedule.Cron, cfg.Schedule.Timezone)
			fmt.Fprintln(out)

			fmt.Fprintln(out, "=== Connectivity ===")
			httpClient := &http.Client{Timeout: 10 * time.Second}

			if err := checkArxiv(httpClient, cfg.Arxiv.APIURL); err != nil {
				fmt.Fprintf(out, "  [FAIL] arXiv API: %v\n", err)
				ok = false
			} else {
				fmt.Fprintln(out, "  [OK] arXiv API reachable")
			}

			if err := cfg.LLM.Validate(); err != nil {
				fmt.Fprintf(out, "  [SKIP] LLM not configured: %v\n", err)
			} else if llm.NewClient(cfg.LLM, nil).CheckHealth(cmd.Context()) {
				fmt.Fprintln(out, "  [OK] LLM endpoint reachable")
			} else {
				fmt.Fprintln(out, "  [FAIL] LLM endpoint unreachable or unresponsive")
				ok = false
			}

			if st, err := store.Open(cfg.Storage.DBPath); err != nil {
				fmt.Fprintf(out, "  [FAIL] Database: %v\n", err)
				ok = false
			} else {
				st.Close()
				fmt.Fprintf(out, "  [OK] Database writable at %s\n", cfg.Storage.DBPath)
			}

			if cfg.Push.Email.Configured() {
				if err := checkSMTP(cfg.Push.Email); err != nil {
					fmt.Fprintf(out, "  [FAIL] SMTP: %v\n", err)
					ok = false
				} else {
					fmt.Fprintln(out, "  [OK] SMTP reachable")
				}
			} else {
				fmt.Fprintln(out, "  [SKIP] Email not configured")
			}

			if cfg.Push.QQ.Configured() {
				if nick, err := checkQQ(httpClient, cfg.Push.QQ); err != nil {
					fmt.Fprintf(out, "  [FAIL] QQ bot: %v\n", err)
					ok = false
				} else {
					fmt.Fprintf(out, "  [OK] QQ bot reachable (nickname: %s)\n", nick)
				}
			} else {
				fmt.Fprintln(out, "  [SKIP] QQ not configured")
			}

			if cfg.Push.Telegram.Configured() {
				if err := checkTelegram(httpClient, cfg.Push.Telegram); err != nil {
					fmt.Fprintf(out, "  [FAIL] Telegram bot: %v\n", err)
					ok = false
				} else {
					fmt.Fprintln(out, "  [OK] Telegram bot reachable")
				}
			} else {
				fmt.Fprintln(out, "  [SKIP] Telegram not configured")
			}

			fmt.Fprintln(out)
			if !ok {
				return errors.New("some checks failed")
			}
			fmt.Fprintln(out, "All checks passed.")
			return nil
		},
	}
}

func checkArxiv(client *http.Client, apiURL string) error {
	resp, err := client.Get(apiURL + "?search_query=cat:cs.AI&max_results=1")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %s", resp.Status)
	}
	return nil
}

func checkSMTP(cfg config.EmailConfig) error {
	client, err := smtp.Dial(fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort))
	if err != nil {
		return err
	}
	defer client.Close()
	return client.Quit()
}

func checkQQ(client *http.Client, cfg config.QQConfig) (string, error) {
	req, err := http.NewRequest(http.MethodGet, strings.TrimRight(cfg.APIURL, "/")+"/get_login_info", nil)
	if err != nil {
		return "", err
	}
	if cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %s", resp.Status)
	}
	var apiResp struct {
		Retcode int `json:"retcode"`
		Data    struct {
			Nickname string `json:"nickname"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return "", err
	}
	if apiResp.Retcode != 0 {
		return "", fmt.Errorf("retcode=%d", apiResp.Retcode)
	}
	return apiResp.Data.Nickname, nil
}

func checkTelegram(client *http.Client, cfg config.TelegramConfig) error {
	resp, err := client.Get("https://api.telegram.org/bot" + cfg.BotToken + "/getMe")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %s", resp.Status)
	}
	return nil
}
