// Command credhash prints the bcrypt hash stored as a user's security answer.
// With -check it instead verifies an answer against an existing hash.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/ledger"
)

func main() {
	check := flag.String("check", "", "verify the answer against this bcrypt hash instead of hashing it")
	flag.Parse()

	answer, err := readAnswer(flag.Args(), os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read answer: %v\n", err)
		os.Exit(1)
	}
	if *check != "" {
		if !ledger.VerifySecurityAnswer(*check, answer) {
			fmt.Println("mismatch")
			os.Exit(2)
		}
		fmt.Println("match")
		return
	}
	hash, err := ledger.HashSecurityAnswer(answer)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hash answer: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}

type statter interface {
	Stat() (os.FileInfo, error)
}

func readAnswer(args []string, in io.Reader) (string, error) {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return args[0], nil
	}
	if f, ok := in.(statter); ok {
		info, err := f.Stat()
		if err != nil {
			return "", err
		}
		if info.Mode()&os.ModeCharDevice != 0 {
			return "", fmt.Errorf("provide the answer as an argument or on stdin")
		}
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && len(line) == 0 {
		return "", err
	}
	answer := strings.TrimSpace(line)
	if answer == "" {
		return "", fmt.Errorf("answer is empty")
	}
	return answer, nil
}
