// Command turboqcat publishes stdin lines into a named SPSC queue, one
// message per line.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"

	"code.hybscloud.com/spin"

	"github.com/ksergey/turboq"
	"github.com/ksergey/turboq/memsrc"
)

func main() {
	var (
		name     = flag.String("name", "", "queue name (required)")
		capacity = flag.Int("capacity", 1<<20, "capacity hint in bytes; an existing queue must have the size this hint produces")
	)
	flag.Parse()
	if *name == "" {
		fmt.Fprintln(os.Stderr, "turboqcat: -name is required")
		os.Exit(2)
	}

	if err := run(*name, *capacity); err != nil {
		fmt.Fprintf(os.Stderr, "turboqcat: %v\n", err)
		os.Exit(1)
	}
}

func run(name string, capacity int) error {
	src, err := memsrc.NewDefault(memsrc.Auto)
	if err != nil {
		return fmt.Errorf("discover memory source: %w", err)
	}

	q, err := turboq.CreateSPSC(src, name, turboq.SPSCOptions{CapacityHint: capacity})
	if err != nil {
		return fmt.Errorf("attach queue %q: %w", name, err)
	}
	defer q.Close()

	producer, err := q.CreateProducer()
	if err != nil {
		return fmt.Errorf("create producer: %w", err)
	}

	scanner := bufio.NewScanner(os.Stdin)
	sw := spin.Wait{}
	for scanner.Scan() {
		line := scanner.Bytes()
		for {
			buf, err := producer.Prepare(len(line))
			if err == nil {
				copy(buf, line)
				producer.Commit()
				sw.Reset()
				break
			}
			if !turboq.IsWouldBlock(err) {
				return fmt.Errorf("prepare: %w", err)
			}
			sw.Once()
		}
	}
	return scanner.Err()
}
