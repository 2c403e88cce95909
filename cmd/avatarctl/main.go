package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"voiceavatar/agent/internal/auth"
	"voiceavatar/agent/internal/control"
)

func main() {
	_ = godotenv.Load()

	addr := flag.String("addr", envOr("CONTROL_ADDR", "localhost:9090"), "control gRPC address")
	token := flag.String("token", os.Getenv("CONTROL_TOKEN"), "control token")
	secret := flag.String("secret", os.Getenv("CONTROL_TOKEN_SECRET"), "mint a token with this secret when -token is empty")
	instance := flag.String("instance", envOr("CONTROL_INSTANCE_ID", "avatar"), "instance id to mint the token for")
	timeout := flag.Duration("timeout", 10*time.Second, "request timeout")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: avatarctl [flags] state|stop|resume|say <text>|token\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	tok := *token
	if tok == "" && *secret != "" {
		var err error
		tok, err = auth.GenerateControlToken(*secret, *instance, time.Now().Add(5*time.Minute).Unix())
		if err != nil {
			log.Fatalf("mint token: %v", err)
		}
	}
	if flag.Arg(0) == "token" {
		fmt.Println(tok)
		return
	}

	c, err := control.Dial(*addr, tok)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch flag.Arg(0) {
	case "state":
		st, err := c.State(ctx)
		if err != nil {
			log.Fatalf("state: %v", err)
		}
		fmt.Println(st)
	case "stop":
		err = c.Stop(ctx)
	case "resume":
		err = c.Resume(ctx)
	case "say":
		err = c.Say(ctx, strings.Join(flag.Args()[1:], " "))
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", flag.Arg(0), err)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
