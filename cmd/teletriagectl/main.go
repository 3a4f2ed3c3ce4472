package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	addrFlag := flag.String("addr", "http://127.0.0.1:8080", "daemon address")
	jsonFlag := flag.Bool("json", false, "output raw JSON")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := &ctl{
		base: strings.TrimRight(*addrFlag, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
		raw:  *jsonFlag,
	}

	switch args[0] {
	case "status":
		c.get("/api/status")
	case "sync":
		c.post("/api/sync", nil)
	case "jobs":
		if len(args) >= 2 {
			c.get("/api/jobs/" + args[1])
		} else {
			c.get("/api/jobs")
		}
	case "caught-up":
		if len(args) >= 2 && args[1] == "set" {
			c.post("/api/caught-up", map[string]string{})
		} else {
			c.get("/api/caught-up")
		}
	case "report":
		if len(args) >= 2 && args[1] == "generate" {
			c.post("/api/reports/generate", map[string]string{})
		} else {
			c.get("/api/reports/latest")
		}
	case "conversations":
		c.get("/api/conversations")
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: teletriagectl [--addr <url>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status            Show daemon status")
	fmt.Fprintln(os.Stderr, "  sync              Start a dialog sync job")
	fmt.Fprintln(os.Stderr, "  jobs [id]         List recent jobs, or show one")
	fmt.Fprintln(os.Stderr, "  caught-up [set]   Show or set the caught-up marker")
	fmt.Fprintln(os.Stderr, "  report [generate] Show the latest report, or generate one")
	fmt.Fprintln(os.Stderr, "  conversations     List cached conversations")
}

type ctl struct {
	base string
	http *http.Client
	raw  bool
}

func (c *ctl) get(path string) {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot reach daemon at %s: %v\n", c.base, err)
		os.Exit(1)
	}
	c.render(resp)
}

func (c *ctl) post(path string, body any) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	}
	resp, err := c.http.Post(c.base+path, "application/json", &buf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot reach daemon at %s: %v\n", c.base, err)
		os.Exit(1)
	}
	c.render(resp)
}

func (c *ctl) render(resp *http.Response) {
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if resp.StatusCode >= 400 {
		var failure struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &failure) == nil && failure.Error != "" {
			fmt.Fprintf(os.Stderr, "error: %s\n", failure.Error)
		} else {
			fmt.Fprintf(os.Stderr, "error: HTTP %d\n", resp.StatusCode)
		}
		os.Exit(1)
	}

	if c.raw {
		fmt.Println(string(data))
		return
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		fmt.Println(string(data))
		return
	}
	fmt.Println(pretty.String())
}
