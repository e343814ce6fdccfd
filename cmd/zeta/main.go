// ZetaVM CLI - loads a package image and runs an exported function.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/maximecb/zetavm/image"
	"github.com/maximecb/zetavm/manifest"
	"github.com/maximecb/zetavm/vm"
)

func main() {
	entry := flag.String("m", "main", "Exported function to run")
	verbose := flag.Bool("v", false, "Verbose output")
	manifestDir := flag.String("manifest", ".", "Directory containing zeta.toml")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: zeta [options] <image.zim>\n\n")
		fmt.Fprintf(os.Stderr, "Runs the exported entry function of a package image.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	verbosity := 0
	if *verbose {
		verbosity = 2
	}
	commonlog.Configure(verbosity, nil)
	log := commonlog.GetLogger("zetavm.cli")

	m, err := manifest.Load(*manifestDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	var cache *image.Cache
	if path := m.CachePath(); path != "" {
		cache, err = image.OpenCache(path)
		if err != nil {
			// The cache is an optimization; a failure to open it must
			// not stop the run
			log.Warningf("package cache unavailable: %v", err)
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	loader := image.NewLoader(m.SearchDirs(), cache)

	vm.InitInterp()
	in := vm.NewInterp(vm.Config{
		StackSize:    m.VM.StackSize,
		CodeHeapSize: m.VM.CodeHeapSize,
	})
	in.Importer = loader

	pkg, err := loader.LoadFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ret, err := in.CallExport(pkg, *entry, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(ret.String())
}
