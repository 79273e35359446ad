package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	matroska "github.com/luispater/mkvtree"
)

var (
	extractDir = flag.String("x", "", "extract attachments into this directory")
	withTags   = flag.Bool("tags", false, "also read the Tags section")
	everything = flag.Bool("all", false, "read every section, including Clusters")
)

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [-x dir] [-tags] [-all] file.mkv\n", os.Args[0])
		os.Exit(2)
	}

	opts := &matroska.Options{
		IncludeSections: []string{"*common"},
		BinarySizeLimit: matroska.DefaultBinarySizeLimit,
		KeepStreamOpen:  *extractDir != "",
		Logger:          log.New(os.Stderr, "mkvtree: ", 0),
	}
	if *withTags {
		opts.IncludeSections = append(opts.IncludeSections, "Tags")
	}
	if *everything {
		opts.IncludeSections = []string{"*"}
	}

	doc, err := matroska.ParseFile(flag.Arg(0), opts)
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		_ = doc.Close()
	}()

	for _, el := range doc.Root.Children() {
		dump(el, 0)
	}

	if *extractDir != "" {
		if err = extractAll(doc, *extractDir); err != nil {
			log.Fatal(err)
		}
	}
}

func dump(el *matroska.Element, depth int) {
	indent := strings.Repeat("  ", depth)
	switch {
	case el.Type == matroska.TypeContainer:
		fmt.Printf("%s+ %s\n", indent, el.Name)
		for _, child := range el.Children() {
			dump(child, depth+1)
		}
	case el.Skipped:
		fmt.Printf("%s- %s (%d bytes, skipped)\n", indent, el.Name, el.Size)
	case el.DisplayString != "":
		fmt.Printf("%s- %s: %s\n", indent, el.Name, el.DisplayString)
	default:
		fmt.Printf("%s- %s: %v\n", indent, el.Name, el.Value)
	}
}

func extractAll(doc *matroska.Document, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, segment := range doc.Segments() {
		attachments := segment.Get("Attachments")
		if attachments == nil {
			continue
		}
		for _, attached := range attachments.ChildList("AttachedFile") {
			name := ""
			if fn := attached.Child("FileName"); fn != nil {
				name = fn.Str()
			}
			if name == "" {
				name = fmt.Sprintf("attachment-%d", attached.Pos)
			}
			target := filepath.Join(dir, filepath.Base(name))
			f, err := os.Create(target)
			if err != nil {
				return err
			}
			if err = doc.ExtractAttachment(attached, f); err != nil {
				_ = f.Close()
				return err
			}
			if err = f.Close(); err != nil {
				return err
			}
			size := int64(0)
			if fd := attached.Child("FileData"); fd != nil {
				size = fd.Size
			}
			fmt.Printf("extracted %s (%d bytes)\n", target, size)
		}
	}
	return nil
}
