// Package chunker 将长文本切分为带重叠窗口的语义分块。
package chunker

import "strings"

// 分隔符按优先级递减：段落、换行、中英文句号、空格，最后硬切。
var separators = []string{"\n\n", "\n", "。", ".", " "}

// Split 将文本切分为长度不超过 chunkSize（按 rune 计）的分块序列。
// 除第一块外，每块以前一块末尾 overlap 个 rune 开头，保证跨界上下文可检索。
// 切分是确定性的：相同输入与参数总是产出相同序列，不丢失尾部内容，
// 也不会产出空分块。overlap >= chunkSize 时退化为简单等宽切分。
func Split(text string, chunkSize, overlap int) []string {
	if text == "" || chunkSize <= 0 {
		return nil
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		return simpleSplit(text, chunkSize)
	}

	runes := []rune(text)
	if len(runes) <= chunkSize {
		return []string{text}
	}

	// 单元上限压到 chunkSize-overlap：任何单元都能与完整的重叠种子
	// 共存于一个分块内，相邻分块的重叠长度因此恒为 overlap。
	units := splitRecursive(text, separators, chunkSize-overlap)
	return mergeWithOverlap(units, chunkSize, overlap)
}

// splitRecursive 按分隔符优先级递归切分，保证每个单元不超过 unitSize 个 rune，
// 且所有单元按序拼接恢复原文（分隔符保留在前一个单元尾部）。
func splitRecursive(text string, seps []string, unitSize int) []string {
	if len([]rune(text)) <= unitSize {
		return []string{text}
	}
	if len(seps) == 0 {
		return hardCut(text, unitSize)
	}

	sep := seps[0]
	rest := seps[1:]
	parts := splitKeep(text, sep)
	if len(parts) == 1 {
		// 当前分隔符在文本中不出现，降级到下一级
		return splitRecursive(text, rest, unitSize)
	}

	var units []string
	for _, part := range parts {
		if len([]rune(part)) > unitSize {
			units = append(units, splitRecursive(part, rest, unitSize)...)
		} else {
			units = append(units, part)
		}
	}
	return units
}

// splitKeep 在每个 sep 之后断开文本，sep 保留在前一个片段尾部。
func splitKeep(text, sep string) []string {
	var parts []string
	for {
		idx := strings.Index(text, sep)
		if idx < 0 {
			break
		}
		cut := idx + len(sep)
		parts = append(parts, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		parts = append(parts, text)
	}
	if len(parts) == 0 {
		parts = []string{""}
	}
	return parts
}

// mergeWithOverlap 将切分单元合并成分块：当前块装不下新单元时封口，
// 并以其末尾 overlap 个 rune 作为下一块的起始种子。
// 单元长度不超过 chunkSize-overlap，种子加新单元总能放进一个分块，
// 封口的分块长度必然大于 overlap，种子恒为完整的 overlap 个 rune。
func mergeWithOverlap(units []string, chunkSize, overlap int) []string {
	var chunks []string
	var cur []rune
	seedLen := 0

	for _, unit := range units {
		u := []rune(unit)
		if len(u) == 0 {
			continue
		}
		if len(cur) > seedLen && len(cur)+len(u) > chunkSize {
			chunks = append(chunks, string(cur))
			tail := overlapTail(cur, overlap)
			cur = append([]rune(nil), tail...)
			seedLen = len(cur)
		}
		cur = append(cur, u...)
	}
	if len(cur) > seedLen {
		chunks = append(chunks, string(cur))
	}
	return chunks
}

// overlapTail 返回分块末尾 overlap 个 rune；分块更短时返回整块。
func overlapTail(runes []rune, overlap int) []rune {
	if overlap <= 0 {
		return nil
	}
	if len(runes) <= overlap {
		return runes
	}
	return runes[len(runes)-overlap:]
}

// simpleSplit 等宽硬切，不带重叠。参数非法时的保底路径。
func simpleSplit(text string, chunkSize int) []string {
	return hardCut(text, chunkSize)
}

func hardCut(text string, chunkSize int) []string {
	var chunks []string
	runes := []rune(text)
	for i := 0; i < len(runes); i += chunkSize {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}
