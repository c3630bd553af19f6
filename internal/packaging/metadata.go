package packaging

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/zip"
)

const (
	detectionEntry = "IntuneWinPackage/Metadata/Detection.xml"
	contentsDir    = "IntuneWinPackage/Contents/"
)

var ErrMetadataMissing = errors.New("package metadata not found")

// EncryptionInfo is the encryption block of Detection.xml.
type EncryptionInfo struct {
	EncryptionKey        string `xml:"EncryptionKey" json:"encryptionKey"`
	MacKey               string `xml:"MacKey" json:"macKey"`
	InitializationVector string `xml:"InitializationVector" json:"initializationVector"`
	Mac                  string `xml:"Mac" json:"mac"`
	ProfileIdentifier    string `xml:"ProfileIdentifier" json:"profileIdentifier"`
	FileDigest           string `xml:"FileDigest" json:"fileDigest"`
	FileDigestAlgorithm  string `xml:"FileDigestAlgorithm" json:"fileDigestAlgorithm"`
}

// MsiInfo is present when the setup file is an MSI.
type MsiInfo struct {
	ProductCode      string `xml:"MsiProductCode" json:"productCode"`
	ProductVersion   string `xml:"MsiProductVersion" json:"productVersion"`
	UpgradeCode      string `xml:"MsiUpgradeCode" json:"upgradeCode"`
	ExecutionContext string `xml:"MsiExecutionContext" json:"executionContext"`
	RequiresReboot   bool   `xml:"MsiRequiresReboot" json:"requiresReboot"`
	IsMachineInstall bool   `xml:"MsiIsMachineInstall" json:"isMachineInstall"`
	IsUserInstall    bool   `xml:"MsiIsUserInstall" json:"isUserInstall"`
	Publisher        string `xml:"MsiPublisher" json:"publisher"`
}

// Metadata is what the packaging tool records about a package.
type Metadata struct {
	XMLName                xml.Name       `xml:"ApplicationInfo"`
	ToolVersion            string         `xml:"ToolVersion,attr"`
	Name                   string         `xml:"Name"`
	UnencryptedContentSize int64          `xml:"UnencryptedContentSize"`
	FileName               string         `xml:"FileName"`
	SetupFile              string         `xml:"SetupFile"`
	EncryptionInfo         EncryptionInfo `xml:"EncryptionInfo"`
	MsiInfo                *MsiInfo       `xml:"MsiInfo"`

	// EncryptedContentSize is the size of the inner payload, read from the
	// archive directory rather than Detection.xml.
	EncryptedContentSize int64 `xml:"-"`
}

// ReadMetadata opens a package and decodes its Detection.xml.
func ReadMetadata(pkgPath string) (Metadata, error) {
	zr, err := zip.OpenReader(pkgPath)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to open package: %w", err)
	}
	defer zr.Close()

	var (
		meta  Metadata
		found bool
		inner = map[string]int64{}
	)
	for _, f := range zr.File {
		switch {
		case f.Name == detectionEntry:
			rc, err := f.Open()
			if err != nil {
				return Metadata{}, err
			}
			meta, err = ParseDetectionXML(rc)
			_ = rc.Close()
			if err != nil {
				return Metadata{}, err
			}
			found = true
		case strings.HasPrefix(f.Name, contentsDir):
			inner[path.Base(f.Name)] = int64(f.UncompressedSize64)
		}
	}
	if !found {
		return Metadata{}, fmt.Errorf("%w: %s", ErrMetadataMissing, detectionEntry)
	}
	meta.EncryptedContentSize = inner[meta.FileName]
	return meta, nil
}

// ParseDetectionXML decodes a Detection.xml document.
func ParseDetectionXML(r io.Reader) (Metadata, error) {
	var meta Metadata
	if err := xml.NewDecoder(r).Decode(&meta); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse Detection.xml: %w", err)
	}
	if meta.Name == "" || meta.FileName == "" {
		return Metadata{}, fmt.Errorf("%w: Detection.xml lacks Name or FileName", ErrMetadataMissing)
	}
	return meta, nil
}
