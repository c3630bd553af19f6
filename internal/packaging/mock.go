package packaging

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

// WritePackage writes a minimal package at path holding meta as
// Detection.xml and payload as the inner encrypted file.
func WritePackage(path string, meta Metadata, payload []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(f)

	w, err := zw.Create(detectionEntry)
	if err == nil {
		enc := xml.NewEncoder(w)
		enc.Indent("", "  ")
		err = enc.Encode(meta)
	}
	if err == nil {
		w, err = zw.Create(contentsDir + meta.FileName)
		if err == nil {
			_, err = w.Write(payload)
		}
	}
	if cerr := zw.Close(); err == nil {
		err = cerr
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// MockTool returns a command.MockRunner RunFunc that behaves like the
// packaging tool: it reads -s and -o from its arguments and writes a package
// named after the setup file.
func MockTool() func(name string, args ...string) ([]byte, error) {
	return func(_ string, args ...string) ([]byte, error) {
		var setup, out string
		for i := 0; i+1 < len(args); i++ {
			switch args[i] {
			case "-s":
				setup = args[i+1]
			case "-o":
				out = args[i+1]
			}
		}
		if setup == "" || out == "" {
			return []byte("usage: -c <source> -s <setup> -o <output>"), fmt.Errorf("missing arguments")
		}
		base := filepath.Base(setup)
		meta := Metadata{
			ToolVersion:            "1.8.6.0",
			Name:                   base,
			UnencryptedContentSize: 1024,
			FileName:               "IntunePackage.intunewin",
			SetupFile:              base,
			EncryptionInfo: EncryptionInfo{
				EncryptionKey:        "a2V5",
				MacKey:               "bWFj",
				InitializationVector: "aXY=",
				Mac:                  "bWFjdmFsdWU=",
				ProfileIdentifier:    "ProfileVersion1",
				FileDigest:           "ZGlnZXN0",
				FileDigestAlgorithm:  "SHA256",
			},
		}
		if strings.EqualFold(filepath.Ext(base), ".msi") {
			meta.MsiInfo = &MsiInfo{ProductCode: "{23170F69-40C1-2702-2408-000001000000}", ProductVersion: "24.08.00.0"}
		}
		pkg := filepath.Join(out, strings.TrimSuffix(base, filepath.Ext(base))+PackageExtension)
		if err := WritePackage(pkg, meta, []byte("encrypted payload")); err != nil {
			return nil, err
		}
		return []byte("Done!!!"), nil
	}
}
