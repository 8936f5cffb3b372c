// Copyright (C) 2017 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// rdpdis disassembles a raw dump of rasterizer command words.
package main

import (
	"bytes"
	"context"
	eb "encoding/binary"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/polypoyo/libdragon/core/data/endian"
	"github.com/polypoyo/libdragon/core/log"
	"github.com/polypoyo/libdragon/rdp"
)

var base = flag.Uint64("base", 0, "memory address of the first command word")

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: rdpdis [flags] [file]\n\n")
		fmt.Fprintf(os.Stderr, "Disassembles big-endian 64-bit command words from file or stdin.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	ctx := log.PutHandler(context.Background(), log.Brief.Handler(log.Std()))
	if err := run(ctx); err != nil {
		log.F(ctx, true, "%v", err)
	}
}

func run(ctx context.Context) error {
	in := io.Reader(os.Stdin)
	if flag.NArg() > 0 {
		f, err := os.Open(flag.Arg(0))
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	if len(data)%8 != 0 {
		log.W(ctx, "%d trailing bytes ignored", len(data)%8)
	}
	r := endian.Reader(bytes.NewReader(data), eb.BigEndian)
	buf := make([]uint64, len(data)/8)
	for i := range buf {
		buf[i] = r.Uint64()
	}
	if err := r.Error(); err != nil {
		return err
	}

	d := rdp.Disassembler{}
	addr := uint32(*base)
	for i := 0; i < len(buf); {
		n := rdp.OpcodeOf(buf[i]).Words()
		if i+n > len(buf) {
			return errors.Errorf("truncated %v at 0x%x", rdp.OpcodeOf(buf[i]), addr)
		}
		d.Command(os.Stdout, addr, buf[i:i+n])
		addr += uint32(n) * 8
		i += n
	}
	return nil
}
