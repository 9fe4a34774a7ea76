// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package kinship

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"time"

	log "github.com/sirupsen/logrus"
)

func writeProfilesPeriodically(outdir string) {
	err := os.MkdirAll(outdir, 0777)
	if err != nil {
		log.Print(err)
		return
	}
	for range time.NewTicker(time.Minute).C {
		writeProfile(outdir, "mem.prof", func(w io.Writer) error {
			return pprof.WriteHeapProfile(w)
		})
		writeProfile(outdir, "cpu.prof", func(w io.Writer) error {
			if err := pprof.StartCPUProfile(w); err != nil {
				return err
			}
			time.Sleep(time.Second)
			pprof.StopCPUProfile()
			return nil
		})
	}
}

// writeProfile writes a profile to a temp file and renames it into
// place, so readers never see a partial profile.
func writeProfile(outdir, name string, write func(io.Writer) error) {
	tmp := filepath.Join(outdir, name+"~")
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		log.Print(err)
		return
	}
	defer f.Close()
	runtime.GC()
	if err := write(f); err != nil {
		log.Printf("%s: %s", name, err)
		return
	}
	if err := f.Close(); err != nil {
		log.Print(err)
		return
	}
	if err := os.Rename(tmp, filepath.Join(outdir, name)); err != nil {
		log.Print(err)
	}
}
