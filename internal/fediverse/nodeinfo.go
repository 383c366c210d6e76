package fediverse

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/Teqed/FediFetcher-sub000/internal/logger"
	"github.com/Teqed/FediFetcher-sub000/internal/peers"
)

// clientSource hands out clients for hosts discovered during probing.
// *peers.Pool satisfies it.
type clientSource interface {
	Get(server string) *peers.Client
}

// nodeInfoDocument is the slice of NodeInfo this tool cares about.
// Schema versions differ in surrounding fields, so responses are decoded
// as generic maps first and mapped onto this struct.
type nodeInfoDocument struct {
	Software struct {
		Name    string
		Version string
	}
}

type nodeInfoLinks struct {
	Links []struct {
		Rel  string `json:"rel"`
		Href string `json:"href"`
	} `json:"links"`
}

type hostMetaXRD struct {
	XMLName xml.Name `xml:"XRD"`
	Links   []struct {
		Rel      string `xml:"rel,attr"`
		Template string `xml:"template,attr"`
		Href     string `xml:"href,attr"`
	} `xml:"Link"`
}

// DetectSoftware probes a server for the software it runs: first the
// conventional /nodeinfo/2.0 document, then the /.well-known/nodeinfo
// index, then /.well-known/host-meta for servers fronted by a different
// WebFinger host. It returns the mapped Software plus the raw name the
// server reported.
func DetectSoftware(ctx context.Context, client *peers.Client, clients clientSource, log logger.Interface) (Software, string, error) {
	if name, err := fetchNodeInfo(ctx, client, "/nodeinfo/2.0"); err == nil {
		return softwareFromName(name), name, nil
	}

	if href, err := wellKnownNodeInfoHref(ctx, client); err == nil && href != "" {
		if name, err := fetchNodeInfoAbs(ctx, client, href); err == nil {
			return softwareFromName(name), name, nil
		}
	}

	host, err := hostMetaHost(ctx, client)
	if err != nil {
		return SoftwareUnknown, "", fmt.Errorf("nodeinfo probe failed for %s: %w", client.Server(), err)
	}
	if host == "" || host == client.Server() || clients == nil {
		return SoftwareUnknown, "", fmt.Errorf("nodeinfo probe failed for %s: no usable host-meta hop", client.Server())
	}

	log.Debug("Following host-meta to delegated host",
		"server", client.Server(),
		"delegate", host,
	)
	// clients is nil on the hop so delegation cannot loop.
	return DetectSoftware(ctx, clients.Get(host), nil, log)
}

func fetchNodeInfo(ctx context.Context, client *peers.Client, path string) (string, error) {
	var doc map[string]any
	if _, err := client.Get(ctx, path, nil, &doc); err != nil {
		return "", err
	}
	return softwareName(doc)
}

func fetchNodeInfoAbs(ctx context.Context, client *peers.Client, href string) (string, error) {
	var doc map[string]any
	if _, err := client.GetAbs(ctx, href, &doc); err != nil {
		return "", err
	}
	return softwareName(doc)
}

func softwareName(doc map[string]any) (string, error) {
	var info nodeInfoDocument
	if err := mapstructure.Decode(doc, &info); err != nil {
		return "", fmt.Errorf("failed to decode nodeinfo document: %w", err)
	}
	if info.Software.Name == "" {
		return "", fmt.Errorf("nodeinfo document carries no software name")
	}
	return strings.ToLower(info.Software.Name), nil
}

func wellKnownNodeInfoHref(ctx context.Context, client *peers.Client) (string, error) {
	var index nodeInfoLinks
	if _, err := client.Get(ctx, "/.well-known/nodeinfo", nil, &index); err != nil {
		return "", err
	}
	var fallback string
	for _, link := range index.Links {
		if link.Href == "" {
			continue
		}
		if strings.Contains(link.Rel, "nodeinfo.diaspora.software/ns/schema/2") {
			return link.Href, nil
		}
		if fallback == "" {
			fallback = link.Href
		}
	}
	return fallback, nil
}

// hostMetaHost extracts the WebFinger host from an XRD host-meta
// document, for servers that delegate their Fediverse identity.
func hostMetaHost(ctx context.Context, client *peers.Client) (string, error) {
	raw, err := client.GetBytes(ctx, "/.well-known/host-meta")
	if err != nil {
		return "", err
	}
	var xrd hostMetaXRD
	if err := xml.Unmarshal(raw, &xrd); err != nil {
		return "", fmt.Errorf("failed to parse host-meta: %w", err)
	}
	for _, link := range xrd.Links {
		if link.Rel != "lrdd" {
			continue
		}
		target := link.Template
		if target == "" {
			target = link.Href
		}
		if target == "" {
			continue
		}
		u, err := url.Parse(target)
		if err != nil || u.Host == "" {
			continue
		}
		return strings.ToLower(u.Host), nil
	}
	return "", nil
}

func softwareFromName(name string) Software {
	switch name {
	case "mastodon", "hometown", "gotosocial":
		return SoftwareMastodon
	case "pleroma", "akkoma":
		return SoftwarePleroma
	case "firefish", "calckey", "misskey", "foundkey", "iceshrimp", "sharkey":
		return SoftwareFirefish
	case "pixelfed":
		return SoftwarePixelfed
	case "lemmy":
		return SoftwareLemmy
	default:
		return SoftwareUnknown
	}
}
