// Command chat is a minimal terminal client for the encrypted
// messaging core: log in, open a chat, type to send. It exists to
// exercise the full pipeline against a running dev server.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"cipherchat/config"
	"cipherchat/internal/attachments"
	"cipherchat/internal/client"
	"cipherchat/internal/keystore"
	"cipherchat/pkg/logger"
)

func main() {
	identity := flag.String("user", "", "login name")
	password := flag.String("password", "", "password")
	chatID := flag.String("chat", "", "chat id to open (defaults to the first chat)")
	flag.Parse()

	if *identity == "" || *password == "" {
		log.Fatal("both -user and -password are required")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	zl := logger.New(cfg.Environment)
	logger.SetGlobalLogger(zl)

	keys, err := keystore.Open(cfg.KeyStorePath + "/" + *identity)
	if err != nil {
		log.Fatalf("keystore: %v", err)
	}
	defer keys.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.New(cfg, keys, zl)
	if cfg.S3.Bucket != "" {
		uploader, err := attachments.NewUploader(ctx, attachments.S3Config{
			Region:    cfg.S3.Region,
			Bucket:    cfg.S3.Bucket,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Endpoint:  cfg.S3.Endpoint,
			UploadTTL: cfg.S3.UploadTTL,
		})
		if err != nil {
			log.Fatalf("s3: %v", err)
		}
		c.SetUploader(uploader)
	}

	if err := c.Login(ctx, *identity, *password); err != nil {
		log.Fatalf("login: %v", err)
	}
	zl.Infof("logged in as %s (%s)", *identity, c.Identity().UserID)

	go func() {
		if err := c.Start(ctx); err != nil && ctx.Err() == nil {
			log.Fatalf("session: %v", err)
		}
	}()

	if *chatID != "" {
		if err := c.OpenChat(ctx, *chatID); err != nil {
			log.Fatalf("open chat: %v", err)
		}
	}

	fmt.Println("type a message and press enter to send; /quit to exit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "/quit":
			return
		case line == "/messages":
			for _, m := range c.Messages() {
				fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Format("15:04:05"), m.Sender.DisplayName, m.Content)
			}
		case strings.HasPrefix(line, "/open "):
			id := strings.TrimSpace(strings.TrimPrefix(line, "/open "))
			if err := c.OpenChat(ctx, id); err != nil {
				fmt.Printf("open chat: %v\n", err)
			}
		case line != "":
			c.Keystroke()
			result, err := c.Send(ctx, line)
			if err != nil {
				fmt.Printf("send failed: %v\n", err)
				continue
			}
			if !result.Complete() {
				fmt.Printf("warning: %v\n", result.PartialError())
			}
		}
	}
}
