package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chazu/tiercomp/classfile"
	"github.com/chazu/tiercomp/cpool"
	"github.com/chazu/tiercomp/pipeline"
)

const objectClass = "java/lang/Object"

// collectClassFiles expands paths into .class files. Directories are
// walked recursively.
func collectClassFiles(paths []string) ([]string, error) {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}
		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.HasSuffix(p, ".class") {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(files)
	return files, nil
}

// readClasses parses every file. Classes are returned in file order.
func readClasses(files []string) ([]*classfile.ClassFile, error) {
	var classes []*classfile.ClassFile
	seen := make(map[string]string)
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		cf, err := classfile.ReadClass(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		if prev, dup := seen[cf.Name]; dup {
			return nil, fmt.Errorf("%s: class %s already defined by %s", file, cf.Name, prev)
		}
		seen[cf.Name] = file
		classes = append(classes, cf)
	}
	return classes, nil
}

// stubClasses returns empty classes for every superclass and interface the
// given classes name but do not define, so that the hierarchy links.
// Members of stubbed classes stay unresolved and are compiled as runtime
// calls.
func stubClasses(classes []*classfile.ClassFile) []*cpool.Class {
	defined := make(map[string]bool, len(classes))
	for _, cf := range classes {
		defined[cf.Name] = true
	}
	stubs := make(map[string]*cpool.Class)
	stub := func(name string, iface bool) {
		if defined[name] || stubs[name] != nil {
			return
		}
		c := &cpool.Class{Name: name, IsInterface: iface}
		if name != objectClass {
			c.SuperName = objectClass
		}
		stubs[name] = c
	}
	stub(objectClass, false)
	for _, cf := range classes {
		if cf.SuperName != "" {
			stub(cf.SuperName, false)
		}
		for _, i := range cf.Interfaces {
			stub(i, true)
		}
	}

	out := make([]*cpool.Class, 0, len(stubs))
	for _, c := range stubs {
		log.Infof("no definition for %s, using an empty stub", c.Name)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// closedWorld links the given classes and their stubs into a universe.
func closedWorld(classes []*classfile.ClassFile) (*cpool.Universe, error) {
	var all []*cpool.Class
	for _, cf := range classes {
		all = append(all, cf.RuntimeClass())
	}
	all = append(all, stubClasses(classes)...)
	return cpool.NewUniverse(all...)
}

// methodRequests returns a request for every method of cf with code whose
// key contains filter.
func methodRequests(cf *classfile.ClassFile, resolver cpool.Resolver, filter string) []*pipeline.Request {
	var reqs []*pipeline.Request
	for i := range cf.Methods {
		m := &cf.Methods[i]
		if m.Code == nil {
			continue
		}
		req := pipeline.NewRequest(cf.Name, m, resolver)
		if filter != "" && !strings.Contains(req.Key(), filter) {
			continue
		}
		reqs = append(reqs, req)
	}
	return reqs
}
