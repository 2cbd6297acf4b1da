package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
)

// maxCIDRHosts bounds a single CIDR expansion (a /16 in IPv4).
const maxCIDRHosts = 1 << 16

// ReadFile returns the non-empty, non-comment lines of filename. "-" reads
// from stdin when it is not a terminal.
func ReadFile(filename string) ([]string, error) {
	var reader io.Reader

	if filename == "-" {
		stat, err := os.Stdin.Stat()
		if err != nil {
			return nil, fmt.Errorf("error checking stdin: %w", err)
		}

		if (stat.Mode() & os.ModeCharDevice) == 0 {
			reader = os.Stdin
		} else {
			return nil, errors.New("no input provided: pipe targets via stdin")
		}
	} else {
		file, err := os.Open(filename)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		reader = file
	}

	var lines []string
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			lines = append(lines, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return lines, nil
}

func ipInc(ip net.IP) {
	for j := len(ip) - 1; j >= 0; j-- {
		ip[j]++
		if ip[j] > 0 {
			break
		}
	}
}

// IPsFromCIDR expands cidr into host addresses. Network and broadcast
// addresses are dropped for IPv4 prefixes shorter than /31.
func IPsFromCIDR(cidr string) ([]string, error) {
	ip, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, err
	}
	ones, bits := ipnet.Mask.Size()
	if bits-ones > 16 {
		return nil, fmt.Errorf("%s: more than %d addresses", cidr, maxCIDRHosts)
	}

	var ips []string
	for currentIP := ip.Mask(ipnet.Mask); ipnet.Contains(currentIP); ipInc(currentIP) {
		ips = append(ips, currentIP.String())
	}
	if bits == 32 && bits-ones >= 2 {
		return ips[1 : len(ips)-1], nil
	}
	return ips, nil
}

// ExpandTargets turns command line targets into a de-duplicated host list.
// A target is an address, a hostname, a CIDR range, or a file of targets.
func ExpandTargets(targets []string) ([]string, error) {
	seen := make(map[string]bool)
	var hosts []string
	add := func(h string) {
		if !seen[h] {
			seen[h] = true
			hosts = append(hosts, h)
		}
	}

	var expand func(t string, depth int) error
	expand = func(t string, depth int) error {
		switch {
		case t == "":
		case strings.Contains(t, "/") && !isFile(t):
			ips, err := IPsFromCIDR(t)
			if err != nil {
				return fmt.Errorf("target %q: %w", t, err)
			}
			for _, ip := range ips {
				add(ip)
			}
		case t == "-" || isFile(t):
			if depth > 0 {
				return fmt.Errorf("target file %q: nested target files are not supported", t)
			}
			lines, err := ReadFile(t)
			if err != nil {
				return fmt.Errorf("target file %q: %w", t, err)
			}
			for _, line := range lines {
				if err := expand(line, depth+1); err != nil {
					return err
				}
			}
		default:
			add(t)
		}
		return nil
	}

	for _, t := range targets {
		if err := expand(strings.TrimSpace(t), 0); err != nil {
			return nil, err
		}
	}
	if len(hosts) == 0 {
		return nil, errors.New("no targets")
	}
	return hosts, nil
}

func isFile(name string) bool {
	info, err := os.Stat(name)
	return err == nil && info.Mode().IsRegular()
}
