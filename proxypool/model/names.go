package model

import "strconv"

// NameSet 为下游配置解决名字冲突：重复的名字依次改为 name-1, name-2 ...
// 与解析批次的 "_N" 不同，这里面向的是从池中取出、来源混杂的记录。
type NameSet struct {
	seen map[string]bool
}

func NewNameSet() *NameSet {
	return &NameSet{seen: make(map[string]bool)}
}

// Claim 返回一个尚未使用的名字并登记。
func (s *NameSet) Claim(name string) string {
	candidate := name
	for i := 1; s.seen[candidate]; i++ {
		candidate = name + "-" + strconv.Itoa(i)
	}
	s.seen[candidate] = true
	return candidate
}
